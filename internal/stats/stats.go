// Package stats implements the rank statistics behind information
// coefficients: Spearman correlation with average tie ranks, IC series
// summaries and a two-sided Student-t p-value.
package stats

import (
	"math"
	"sort"
)

// Ranks assigns 1-based ranks with ties receiving the average of the ranks
// they span.
func Ranks(xs []float64) []float64 {
	n := len(xs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		// average rank over the tie run [i, j]
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Pearson returns the sample correlation of x and y, NaN when either side
// has zero variance or fewer than two points.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return math.NaN()
	}
	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/float64(n), sy/float64(n)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(vx*vy)
}

// Spearman returns the rank correlation of x and y. NaN entries carry no
// rank, so any NaN on either side makes the correlation NaN; callers filter
// incomplete pairs first.
func Spearman(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return math.NaN()
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			return math.NaN()
		}
	}
	return Pearson(Ranks(x), Ranks(y))
}

// Summary aggregates an IC series. Std uses population variance, matching
// the convention the reporting layer expects.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	IR     float64 `json:"ir"`
	TStat  float64 `json:"t_stat"`
	PValue float64 `json:"p_value"`
}

// Summarize computes mean, std, information ratio, t-statistic and p-value
// over the non-NaN entries of values.
func Summarize(values []float64) Summary {
	var clean []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	s := Summary{N: len(clean), Mean: math.NaN(), Std: math.NaN(),
		IR: math.NaN(), TStat: math.NaN(), PValue: math.NaN()}
	if len(clean) == 0 {
		return s
	}
	var sum float64
	for _, v := range clean {
		sum += v
	}
	mean := sum / float64(len(clean))
	var ss float64
	for _, v := range clean {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(clean)))
	s.Mean = mean
	s.Std = std
	if std > 0 {
		s.IR = mean / std
		s.TStat = mean / (std / math.Sqrt(float64(len(clean))))
		if len(clean) > 1 {
			s.PValue = StudentTPValue(s.TStat, len(clean)-1)
		}
	}
	return s
}

// StudentTPValue returns the two-sided p-value of t under a Student-t
// distribution with df degrees of freedom.
func StudentTPValue(t float64, df int) float64 {
	if df <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return math.NaN()
	}
	x := float64(df) / (float64(df) + t*t)
	return regIncompleteBeta(float64(df)/2, 0.5, x)
}

// regIncompleteBeta computes the regularized incomplete beta function
// I_x(a, b) via the Lentz continued fraction.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lnFront := lgamma(a+b) - lgamma(a) - lgamma(b) + a*math.Log(x) + b*math.Log(1-x)
	front := math.Exp(lnFront)
	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		tiny    = 1e-30
	)
	qab, qap, qam := a+b, a+1, a-1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		aa := fm * (b - fm) * x / ((qam + 2*fm) * (a + 2*fm))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c
		aa = -(a + fm) * (qab + fm) * x / ((a + 2*fm) * (qap + 2*fm))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

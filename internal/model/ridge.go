package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xsquant/crosseval/internal/panel"
)

// Ridge is an L2-regularized linear estimator solved in closed form via the
// normal equations. The intercept is not penalized.
type Ridge struct {
	Alpha float64
}

// NewRidge returns a ridge estimator with the given regularization strength.
func NewRidge(alpha float64) *Ridge {
	if alpha < 0 {
		alpha = 0
	}
	return &Ridge{Alpha: alpha}
}

func (r *Ridge) Name() string { return "ridge" }

// ridgeModel holds fitted coefficients. Coef[0] is the intercept.
type ridgeModel struct {
	Coef []float64 `json:"coef"`
}

// Fit solves (X'WX + alpha*I) b = X'Wy with an intercept column.
func (r *Ridge) Fit(rows []panel.Row, weights []float64) (Model, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("ridge: empty training set")
	}
	p := len(rows[0].Features) + 1 // intercept + features

	// Accumulate the normal equations.
	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
	}
	xty := make([]float64, p)
	xi := make([]float64, p)
	for n, row := range rows {
		w := 1.0
		if weights != nil {
			w = weights[n]
		}
		xi[0] = 1
		copy(xi[1:], row.Features)
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				xtx[i][j] += w * xi[i] * xi[j]
			}
			xty[i] += w * xi[i] * row.Label
		}
	}
	for i := 0; i < p; i++ {
		for j := 0; j < i; j++ {
			xtx[i][j] = xtx[j][i]
		}
	}
	for i := 1; i < p; i++ {
		xtx[i][i] += r.Alpha
	}

	coef, err := solve(xtx, xty)
	if err != nil {
		return nil, fmt.Errorf("ridge: %w", err)
	}
	return &ridgeModel{Coef: coef}, nil
}

// Restore rebuilds a trained model from a checkpoint payload.
func (r *Ridge) Restore(checkpoint []byte) (Model, error) {
	var m ridgeModel
	if err := json.Unmarshal(checkpoint, &m); err != nil {
		return nil, fmt.Errorf("ridge: decode checkpoint: %w", err)
	}
	if len(m.Coef) == 0 {
		return nil, fmt.Errorf("ridge: empty checkpoint")
	}
	return &m, nil
}

func (m *ridgeModel) Predict(rows []panel.Row) []float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		s := m.Coef[0]
		for j, f := range row.Features {
			if j+1 < len(m.Coef) {
				s += m.Coef[j+1] * f
			}
		}
		scores[i] = s
	}
	return scores
}

// Importances reports absolute coefficient magnitudes, excluding the
// intercept.
func (m *ridgeModel) Importances() []float64 {
	out := make([]float64, len(m.Coef)-1)
	for i := 1; i < len(m.Coef); i++ {
		out[i-1] = math.Abs(m.Coef[i])
	}
	return out
}

func (m *ridgeModel) Checkpoint() ([]byte, error) {
	return json.Marshal(m)
}

// solve performs Gaussian elimination with partial pivoting on a copy of
// the inputs.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular design matrix at column %d", col)
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := m[i][n]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	return x, nil
}

// Package model defines the estimator abstraction the evaluator trains per
// fold, plus a built-in ridge least-squares estimator. Estimators must be
// deterministic for a fixed seed.
package model

import (
	"github.com/xsquant/crosseval/internal/panel"
)

// Model is a trained estimator.
type Model interface {
	// Predict scores each row; higher means more attractive before any
	// direction adjustment.
	Predict(rows []panel.Row) []float64

	// Importances returns one non-negative importance per feature.
	Importances() []float64

	// Checkpoint serializes the trained state for reuse by a later run.
	Checkpoint() ([]byte, error)
}

// Estimator trains models from panel rows. weights may be nil for
// unweighted fits.
type Estimator interface {
	Name() string
	Fit(rows []panel.Row, weights []float64) (Model, error)
	Restore(checkpoint []byte) (Model, error)
}

// DateEqualWeights returns per-row weights of 1/count(date), so every date
// contributes equally to the fit regardless of universe size that day.
func DateEqualWeights(rows []panel.Row) []float64 {
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Date.Format(panel.DateFormat)]++
	}
	weights := make([]float64, len(rows))
	for i, r := range rows {
		weights[i] = 1.0 / float64(counts[r.Date.Format(panel.DateFormat)])
	}
	return weights
}

// Package errs defines the error taxonomy shared by the evaluation engine.
//
// Three classes exist: configuration errors are fatal before any fold runs,
// insufficient-data errors skip the offending fold, and data-gap errors are
// fatal unless a fallback exit policy recovers them locally.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports invalid or infeasible run parameters. It is
// always surfaced before any computation starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfig builds a ConfigurationError for the given config field.
func NewConfig(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports a fold whose train or test set is empty or
// below the minimum cross-sectional size after filtering.
type InsufficientDataError struct {
	Fold   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data in fold %d: %s", e.Fold, e.Reason)
}

// NewInsufficientData builds an InsufficientDataError for the given fold.
func NewInsufficientData(fold int, format string, args ...interface{}) error {
	return &InsufficientDataError{Fold: fold, Reason: fmt.Sprintf(format, args...)}
}

// DataGapError reports a missing price at a required exit date.
type DataGapError struct {
	Symbol string
	Date   string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("no price for %s at required exit date %s", e.Symbol, e.Date)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}

// IsDataGap reports whether err is a DataGapError.
func IsDataGap(err error) bool {
	var de *DataGapError
	return errors.As(err, &de)
}

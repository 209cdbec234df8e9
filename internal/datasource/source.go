// Package datasource defines the capability boundary for loading panel rows
// from external providers. The engine never talks to a vendor API directly;
// it sees a Source and two typed failure modes, RateLimitError and AuthError,
// which the fallback client uses to decide whether a sibling provider should
// be tried.
package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/xsquant/crosseval/internal/panel"
)

// Range bounds a fetch request. From and To are inclusive trade dates.
// An empty Symbols slice means the provider's full universe.
type Range struct {
	From    time.Time
	To      time.Time
	Symbols []string
}

// Key is a stable cache identity for the range.
func (r Range) Key() string {
	syms := "all"
	if len(r.Symbols) > 0 {
		syms = fmt.Sprintf("%d", len(r.Symbols))
		for _, s := range r.Symbols {
			syms += ":" + s
		}
	}
	return fmt.Sprintf("%s|%s|%s",
		r.From.Format(panel.DateFormat), r.To.Format(panel.DateFormat), syms)
}

// Source fetches panel rows for a date range.
type Source interface {
	Name() string
	Fetch(ctx context.Context, rng Range) ([]panel.Row, error)
}

// RateLimitError reports a provider refusing the request for quota reasons.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// AuthError reports a rejected or expired credential.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: auth rejected: %s", e.Provider, e.Reason)
}

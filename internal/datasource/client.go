package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xsquant/crosseval/internal/panel"
)

// provider pairs a Source with its guard rails.
type provider struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// ProviderConfig tunes one provider slot in the fallback chain.
type ProviderConfig struct {
	RPS            float64
	Burst          int
	MaxFailures    uint32
	BreakerTimeout time.Duration
}

// DefaultProviderConfig matches conservative free-tier quotas.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		RPS:            2,
		Burst:          4,
		MaxFailures:    5,
		BreakerTimeout: 60 * time.Second,
	}
}

// Client walks an ordered fallback chain of providers. Each provider sits
// behind its own circuit breaker and token-bucket limiter; a rate-limit or
// auth failure advances to the next provider, and an open breaker is skipped
// outright.
type Client struct {
	providers []provider
}

// NewClient builds the chain in priority order.
func NewClient(sources []Source, cfg ProviderConfig) *Client {
	c := &Client{providers: make([]provider, 0, len(sources))}
	for _, src := range sources {
		name := src.Name()
		settings := gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("provider", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("provider breaker state change")
			},
		}
		c.providers = append(c.providers, provider{
			source:  src,
			breaker: gobreaker.NewCircuitBreaker(settings),
			limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		})
	}
	return c
}

// Name implements Source.
func (c *Client) Name() string { return "fallback-chain" }

// Fetch tries each provider in order until one succeeds. Typed failures
// (RateLimitError, AuthError) and open breakers fall through to the next
// provider; any other error aborts the chain.
func (c *Client) Fetch(ctx context.Context, rng Range) ([]panel.Row, error) {
	if len(c.providers) == 0 {
		return nil, errors.New("datasource: no providers configured")
	}
	var lastErr error
	for _, p := range c.providers {
		name := p.source.Name()
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate wait for %s: %w", name, err)
		}
		out, err := p.breaker.Execute(func() (interface{}, error) {
			return p.source.Fetch(ctx, rng)
		})
		if err == nil {
			return out.([]panel.Row), nil
		}
		var rle *RateLimitError
		var ae *AuthError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			log.Warn().Str("provider", name).Msg("provider breaker open, trying next")
		case errors.As(err, &rle):
			log.Warn().Str("provider", name).Dur("retry_after", rle.RetryAfter).
				Msg("provider rate limited, trying next")
		case errors.As(err, &ae):
			log.Warn().Str("provider", name).Str("reason", ae.Reason).
				Msg("provider auth rejected, trying next")
		default:
			return nil, fmt.Errorf("fetch from %s: %w", name, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all providers exhausted: %w", lastErr)
}

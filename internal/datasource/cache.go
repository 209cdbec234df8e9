package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/panel"
)

// cachedRow is the wire form of a panel.Row in Redis.
type cachedRow struct {
	Date     string    `json:"d"`
	Symbol   string    `json:"s"`
	Features []float64 `json:"f"`
	Label    float64   `json:"l"`
	Weight   float64   `json:"w"`
	Price    float64   `json:"p"`
	Tradable bool      `json:"t"`
}

// CachedSource is a fetch-through Redis cache in front of another Source.
// Hits skip the provider entirely; misses fetch, store with TTL, and return.
// Cache failures degrade to the underlying source rather than failing the
// fetch.
type CachedSource struct {
	inner  Source
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewCachedSource wraps src with a Redis row cache.
func NewCachedSource(src Source, client redis.Cmdable, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: src, client: client, ttl: ttl, prefix: "crosseval:rows:"}
}

// Name implements Source.
func (c *CachedSource) Name() string { return c.inner.Name() + "+cache" }

// Fetch implements Source.
func (c *CachedSource) Fetch(ctx context.Context, rng Range) ([]panel.Row, error) {
	key := c.prefix + rng.Key()

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		rows, decErr := decodeRows(raw)
		if decErr == nil {
			return rows, nil
		}
		log.Warn().Err(decErr).Str("key", key).Msg("corrupt cache entry, refetching")
	case errors.Is(err, redis.Nil):
		// miss
	default:
		log.Warn().Err(err).Str("key", key).Msg("cache read failed, falling through")
	}

	rows, err := c.inner.Fetch(ctx, rng)
	if err != nil {
		return nil, err
	}

	raw, err = encodeRows(rows)
	if err != nil {
		return rows, nil
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return rows, nil
}

func encodeRows(rows []panel.Row) ([]byte, error) {
	out := make([]cachedRow, len(rows))
	for i, r := range rows {
		out[i] = cachedRow{
			Date:     r.Date.Format(panel.DateFormat),
			Symbol:   r.Symbol,
			Features: r.Features,
			Label:    r.Label,
			Weight:   r.Weight,
			Price:    r.Price,
			Tradable: r.Tradable,
		}
	}
	return json.Marshal(out)
}

func decodeRows(raw []byte) ([]panel.Row, error) {
	var in []cachedRow
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	rows := make([]panel.Row, len(in))
	for i, cr := range in {
		d, err := time.Parse(panel.DateFormat, cr.Date)
		if err != nil {
			return nil, fmt.Errorf("cached row %d: %w", i, err)
		}
		rows[i] = panel.Row{
			Date:     d,
			Symbol:   cr.Symbol,
			Features: cr.Features,
			Label:    cr.Label,
			Weight:   cr.Weight,
			Price:    cr.Price,
			Tradable: cr.Tradable,
		}
	}
	return rows, nil
}

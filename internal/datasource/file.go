package datasource

import (
	"context"
	"fmt"

	"github.com/xsquant/crosseval/internal/panel"
)

// FileSource serves rows from a local panel CSV. It is the default provider
// for offline runs and the terminal fallback in a provider chain.
type FileSource struct {
	path   string
	schema panel.Schema
}

// NewFileSource binds a CSV path and column schema.
func NewFileSource(path string, schema panel.Schema) *FileSource {
	return &FileSource{path: path, schema: schema}
}

// Name implements Source.
func (f *FileSource) Name() string { return "file:" + f.path }

// Fetch implements Source. The file is re-read per call; callers wanting
// reuse should wrap with CachedSource or hold the Panel directly.
func (f *FileSource) Fetch(ctx context.Context, rng Range) ([]panel.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := panel.LoadCSV(f.path, f.schema)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}

	want := make(map[string]struct{}, len(rng.Symbols))
	for _, s := range rng.Symbols {
		want[s] = struct{}{}
	}

	var out []panel.Row
	for _, r := range p.Rows() {
		if !rng.From.IsZero() && r.Date.Before(panel.Normalize(rng.From)) {
			continue
		}
		if !rng.To.IsZero() && r.Date.After(panel.Normalize(rng.To)) {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[r.Symbol]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

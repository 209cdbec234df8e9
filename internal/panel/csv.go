package panel

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog/log"
)

// Schema names the well-known columns of a panel CSV. Every remaining
// column is treated as a feature.
type Schema struct {
	DateCol     string
	SymbolCol   string
	PriceCol    string
	LabelCol    string
	WeightCol   string // optional
	TradableCol string // optional
}

// DefaultSchema matches the columns emitted by the feature pipeline.
func DefaultSchema() Schema {
	return Schema{
		DateCol:   "trade_date",
		SymbolCol: "symbol",
		PriceCol:  "close",
		LabelCol:  "future_return",
	}
}

// ReadCSV parses a panel CSV into a validated Panel.
func ReadCSV(r io.Reader, schema Schema) (*Panel, error) {
	df := dataframe.ReadCSV(r,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.HasHeader(true),
	)
	if df.Error() != nil {
		return nil, fmt.Errorf("read panel csv: %w", df.Error())
	}
	return fromDataFrame(df, schema)
}

// LoadCSV reads a panel CSV from disk.
func LoadCSV(path string, schema Schema) (*Panel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open panel csv: %w", err)
	}
	defer f.Close()

	p, err := ReadCSV(f, schema)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("rows", p.Len()).Int("dates", p.NumDates()).
		Strs("features", p.FeatureNames()).Msg("panel loaded")
	return p, nil
}

func fromDataFrame(df dataframe.DataFrame, schema Schema) (*Panel, error) {
	names := df.Names()
	has := make(map[string]bool, len(names))
	for _, n := range names {
		has[n] = true
	}
	for _, required := range []string{schema.DateCol, schema.SymbolCol, schema.PriceCol, schema.LabelCol} {
		if !has[required] {
			return nil, fmt.Errorf("panel csv missing required column %q", required)
		}
	}

	special := map[string]bool{
		schema.DateCol:   true,
		schema.SymbolCol: true,
		schema.PriceCol:  true,
		schema.LabelCol:  true,
	}
	if schema.WeightCol != "" {
		special[schema.WeightCol] = true
	}
	if schema.TradableCol != "" {
		special[schema.TradableCol] = true
	}

	var featureNames []string
	for _, n := range names {
		if !special[n] {
			featureNames = append(featureNames, n)
		}
	}
	if len(featureNames) == 0 {
		return nil, fmt.Errorf("panel csv has no feature columns")
	}

	dates := df.Col(schema.DateCol).Records()
	symbols := df.Col(schema.SymbolCol).Records()
	prices := floatCol(df, schema.PriceCol)
	labels := floatCol(df, schema.LabelCol)

	var weights []float64
	if schema.WeightCol != "" && has[schema.WeightCol] {
		weights = floatCol(df, schema.WeightCol)
	}
	var tradables []string
	if schema.TradableCol != "" && has[schema.TradableCol] {
		tradables = df.Col(schema.TradableCol).Records()
	}

	features := make([][]float64, len(featureNames))
	for i, n := range featureNames {
		features[i] = floatCol(df, n)
	}

	rows := make([]Row, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		d, err := parseDay(dates[i])
		if err != nil {
			return nil, fmt.Errorf("panel csv row %d: %w", i, err)
		}
		row := Row{
			Date:     d,
			Symbol:   symbols[i],
			Features: make([]float64, len(featureNames)),
			Label:    labels[i],
			Price:    prices[i],
			Tradable: true,
		}
		for j := range featureNames {
			row.Features[j] = features[j][i]
		}
		if weights != nil && !math.IsNaN(weights[i]) {
			row.Weight = weights[i]
		}
		if tradables != nil {
			row.Tradable = tradables[i] == "1" || tradables[i] == "true" || tradables[i] == "True"
		}
		rows = append(rows, row)
	}

	return New(featureNames, rows)
}

func floatCol(df dataframe.DataFrame, name string) []float64 {
	return df.Col(name).Float()
}

func parseDay(s string) (time.Time, error) {
	for _, layout := range []string{DateFormat, "20060102", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

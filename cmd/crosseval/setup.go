package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xsquant/crosseval/internal/config"
	"github.com/xsquant/crosseval/internal/model"
	"github.com/xsquant/crosseval/internal/panel"
	"github.com/xsquant/crosseval/internal/persistence/postgres"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func schemaFrom(d config.DataConfig) panel.Schema {
	s := panel.DefaultSchema()
	if d.DateCol != "" {
		s.DateCol = d.DateCol
	}
	if d.SymbolCol != "" {
		s.SymbolCol = d.SymbolCol
	}
	if d.PriceCol != "" {
		s.PriceCol = d.PriceCol
	}
	if d.LabelCol != "" {
		s.LabelCol = d.LabelCol
	}
	s.WeightCol = d.WeightCol
	s.TradableCol = d.TradableCol
	return s
}

func loadPanel(cfg config.Config) (*panel.Panel, error) {
	if cfg.Data.PanelPath == "" {
		return nil, fmt.Errorf("data.panel_path is required")
	}
	return panel.LoadCSV(cfg.Data.PanelPath, schemaFrom(cfg.Data))
}

func estimatorFrom(m config.ModelConfig) (model.Estimator, error) {
	switch m.Type {
	case "", "ridge":
		return model.NewRidge(m.Alpha), nil
	default:
		return nil, fmt.Errorf("unknown model type %q", m.Type)
	}
}

// openStore connects to Postgres when a DSN is configured. A nil store with
// a nil error means persistence is disabled.
func openStore(ctx context.Context, cfg config.StoreConfig) (*postgres.Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, nil
	}
	store, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

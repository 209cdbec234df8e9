// Package config defines the run configuration consumed by the evaluation
// engine. Parsing stops here; every other package receives values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xsquant/crosseval/internal/errs"
)

// Split modes.
const (
	SplitCV          = "cv"
	SplitWalkForward = "walk_forward"
)

// Walk-forward window styles.
const (
	WindowExpanding = "expanding"
	WindowRolling   = "rolling"
)

// Signal direction modes.
const (
	DirectionFixed = "fixed"
	DirectionAuto  = "auto"
)

// Exit modes and price policies.
const (
	ExitModeRebalance    = "rebalance"
	ExitModeLabelHorizon = "label_horizon"

	ExitPriceStrict = "strict"
	ExitPriceFFill  = "ffill"
	ExitPriceDelay  = "delay"

	ExitFallbackFFill = "ffill"
	ExitFallbackNone  = "none"
)

// Live train modes.
const (
	TrainFresh = "fresh"
	TrainReuse = "reuse"
)

// Config is the complete run configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Model    ModelConfig    `yaml:"model"`
	Eval     EvalConfig     `yaml:"eval"`
	Backtest BacktestConfig `yaml:"backtest"`
	Live     LiveConfig     `yaml:"live"`
	Store    StoreConfig    `yaml:"store"`
	Serve    ServeConfig    `yaml:"serve"`
}

// DataConfig locates the panel and names its well-known columns.
type DataConfig struct {
	PanelPath   string `yaml:"panel_path"`
	DateCol     string `yaml:"date_col"`
	SymbolCol   string `yaml:"symbol_col"`
	PriceCol    string `yaml:"price_col"`
	LabelCol    string `yaml:"label_col"`
	WeightCol   string `yaml:"weight_col"`
	TradableCol string `yaml:"tradable_col"`
}

// ModelConfig selects and parameterizes the estimator.
type ModelConfig struct {
	Type             string  `yaml:"type"`
	Alpha            float64 `yaml:"alpha"`
	Seed             int64   `yaml:"seed"`
	SampleWeightMode string  `yaml:"sample_weight_mode"` // "", "none", "date_equal"
}

// WalkForwardConfig shapes walk-forward folds.
type WalkForwardConfig struct {
	Window      string `yaml:"window"` // expanding | rolling
	TrainLength int    `yaml:"train_length"`
	TestLength  int    `yaml:"test_length"`
}

// EvalConfig drives fold construction and signal evaluation.
type EvalConfig struct {
	SplitMode           string            `yaml:"split_mode"`
	NSplits             int               `yaml:"n_splits"`
	EmbargoDays         int               `yaml:"embargo_days"`
	PurgeDays           int               `yaml:"purge_days"`
	MinCrossSection     int               `yaml:"min_cross_section"`
	NQuantiles          int               `yaml:"n_quantiles"`
	SignalDirectionMode string            `yaml:"signal_direction_mode"`
	SignalDirection     float64           `yaml:"signal_direction"`
	MinAbsICToFlip      float64           `yaml:"min_abs_ic_to_flip"`
	PermutationTrials   int               `yaml:"permutation_trials"`
	WalkForward         WalkForwardConfig `yaml:"walk_forward"`
	MaxConcurrentFolds  int               `yaml:"max_concurrent_folds"`
}

// BacktestConfig drives portfolio construction and the rebalance loop.
type BacktestConfig struct {
	Enabled            bool    `yaml:"enabled"`
	TopK               int     `yaml:"top_k"`
	LongOnly           bool    `yaml:"long_only"`
	RebalanceFrequency string  `yaml:"rebalance_frequency"` // D | W | M
	ShiftDays          int     `yaml:"shift_days"`
	CostBps            float64 `yaml:"transaction_cost_bps"`
	RoundTrip          bool    `yaml:"round_trip"`
	BufferEntry        int     `yaml:"buffer_entry"`
	BufferExit         int     `yaml:"buffer_exit"`
	ExitMode           string  `yaml:"exit_mode"`
	ExitHorizonDays    int     `yaml:"exit_horizon_days"`
	ExitPricePolicy    string  `yaml:"exit_price_policy"`
	ExitFallbackPolicy string  `yaml:"exit_fallback_policy"`
	TradingDaysPerYear int     `yaml:"trading_days_per_year"`
}

// LiveConfig drives the as-of snapshot.
type LiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AsOf      string `yaml:"as_of"` // today | t-1 | last_completed_trading_day | explicit date
	TrainMode string `yaml:"train_mode"`
	Calendar  string `yaml:"calendar"` // "" (none) | weekday
}

// StoreConfig wires optional artifact persistence.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisTTLSec int    `yaml:"redis_ttl_secs"`
}

// ServeConfig configures the ops HTTP endpoint.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when a field is left unset.
func Default() Config {
	return Config{
		Data: DataConfig{
			DateCol:   "trade_date",
			SymbolCol: "symbol",
			PriceCol:  "close",
			LabelCol:  "future_return",
		},
		Model: ModelConfig{Type: "ridge", Alpha: 1.0, Seed: 42},
		Eval: EvalConfig{
			SplitMode:           SplitCV,
			NSplits:             5,
			MinCrossSection:     2,
			NQuantiles:          5,
			SignalDirectionMode: DirectionFixed,
			SignalDirection:     1,
			MinAbsICToFlip:      0.005,
			WalkForward:         WalkForwardConfig{Window: WindowExpanding, TestLength: 21},
			MaxConcurrentFolds:  4,
		},
		Backtest: BacktestConfig{
			Enabled:            true,
			TopK:               10,
			LongOnly:           true,
			RebalanceFrequency: "W",
			ShiftDays:          1,
			CostBps:            15,
			RoundTrip:          true,
			ExitMode:           ExitModeRebalance,
			ExitPricePolicy:    ExitPriceStrict,
			ExitFallbackPolicy: ExitFallbackFFill,
			TradingDaysPerYear: 252,
		},
		Live:  LiveConfig{AsOf: "t-1", TrainMode: TrainFresh, Calendar: "weekday"},
		Serve: ServeConfig{Addr: ":8080"},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every engine parameter up front so a bad run never starts.
func (c *Config) Validate() error {
	switch c.Eval.SplitMode {
	case SplitCV, SplitWalkForward:
	default:
		return errs.NewConfig("eval.split_mode", "must be %q or %q, got %q", SplitCV, SplitWalkForward, c.Eval.SplitMode)
	}
	if c.Eval.NSplits < 1 {
		return errs.NewConfig("eval.n_splits", "must be >= 1, got %d", c.Eval.NSplits)
	}
	if c.Eval.EmbargoDays < 0 || c.Eval.PurgeDays < 0 {
		return errs.NewConfig("eval.embargo_days/purge_days", "must be >= 0")
	}
	if c.Eval.MinCrossSection < 2 {
		return errs.NewConfig("eval.min_cross_section", "must be >= 2, got %d", c.Eval.MinCrossSection)
	}
	if c.Eval.NQuantiles < 2 {
		return errs.NewConfig("eval.n_quantiles", "must be >= 2, got %d", c.Eval.NQuantiles)
	}
	switch c.Eval.SignalDirectionMode {
	case DirectionFixed, DirectionAuto:
	default:
		return errs.NewConfig("eval.signal_direction_mode", "must be %q or %q, got %q", DirectionFixed, DirectionAuto, c.Eval.SignalDirectionMode)
	}
	if c.Eval.SignalDirection != 1 && c.Eval.SignalDirection != -1 {
		return errs.NewConfig("eval.signal_direction", "must be +1 or -1, got %v", c.Eval.SignalDirection)
	}
	if c.Eval.PermutationTrials < 0 {
		return errs.NewConfig("eval.permutation_trials", "must be >= 0, got %d", c.Eval.PermutationTrials)
	}
	if c.Eval.SplitMode == SplitWalkForward {
		switch c.Eval.WalkForward.Window {
		case WindowExpanding, WindowRolling:
		default:
			return errs.NewConfig("eval.walk_forward.window", "must be %q or %q, got %q", WindowExpanding, WindowRolling, c.Eval.WalkForward.Window)
		}
		if c.Eval.WalkForward.TestLength < 1 {
			return errs.NewConfig("eval.walk_forward.test_length", "must be >= 1, got %d", c.Eval.WalkForward.TestLength)
		}
		if c.Eval.WalkForward.Window == WindowRolling && c.Eval.WalkForward.TrainLength < 1 {
			return errs.NewConfig("eval.walk_forward.train_length", "must be >= 1 for rolling windows")
		}
	}
	if c.Eval.MaxConcurrentFolds < 1 {
		return errs.NewConfig("eval.max_concurrent_folds", "must be >= 1, got %d", c.Eval.MaxConcurrentFolds)
	}

	if c.Backtest.TopK < 1 {
		return errs.NewConfig("backtest.top_k", "must be >= 1, got %d", c.Backtest.TopK)
	}
	if c.Backtest.CostBps < 0 {
		return errs.NewConfig("backtest.transaction_cost_bps", "must be >= 0, got %v", c.Backtest.CostBps)
	}
	if c.Backtest.BufferEntry < 0 || c.Backtest.BufferExit < 0 {
		return errs.NewConfig("backtest.buffer_entry/buffer_exit", "must be >= 0")
	}
	if c.Backtest.BufferEntry >= c.Backtest.TopK {
		return errs.NewConfig("backtest.buffer_entry", "must be < top_k (%d), got %d", c.Backtest.TopK, c.Backtest.BufferEntry)
	}
	if c.Backtest.ShiftDays < 0 {
		return errs.NewConfig("backtest.shift_days", "must be >= 0, got %d", c.Backtest.ShiftDays)
	}
	switch c.Backtest.RebalanceFrequency {
	case "D", "W", "M":
	default:
		return errs.NewConfig("backtest.rebalance_frequency", "must be D, W or M, got %q", c.Backtest.RebalanceFrequency)
	}
	switch c.Backtest.ExitMode {
	case ExitModeRebalance:
	case ExitModeLabelHorizon:
		if c.Backtest.ExitHorizonDays < 1 {
			return errs.NewConfig("backtest.exit_horizon_days", "required for exit_mode=%s", ExitModeLabelHorizon)
		}
	default:
		return errs.NewConfig("backtest.exit_mode", "must be %q or %q, got %q", ExitModeRebalance, ExitModeLabelHorizon, c.Backtest.ExitMode)
	}
	switch c.Backtest.ExitPricePolicy {
	case ExitPriceStrict, ExitPriceFFill, ExitPriceDelay:
	default:
		return errs.NewConfig("backtest.exit_price_policy", "must be strict, ffill or delay, got %q", c.Backtest.ExitPricePolicy)
	}
	switch c.Backtest.ExitFallbackPolicy {
	case ExitFallbackFFill, ExitFallbackNone:
	default:
		return errs.NewConfig("backtest.exit_fallback_policy", "must be ffill or none, got %q", c.Backtest.ExitFallbackPolicy)
	}
	if c.Backtest.TradingDaysPerYear < 1 {
		return errs.NewConfig("backtest.trading_days_per_year", "must be >= 1, got %d", c.Backtest.TradingDaysPerYear)
	}

	switch c.Live.TrainMode {
	case TrainFresh, TrainReuse:
	default:
		return errs.NewConfig("live.train_mode", "must be %q or %q, got %q", TrainFresh, TrainReuse, c.Live.TrainMode)
	}
	switch c.Model.SampleWeightMode {
	case "", "none", "date_equal":
	default:
		return errs.NewConfig("model.sample_weight_mode", "must be none or date_equal, got %q", c.Model.SampleWeightMode)
	}
	return nil
}

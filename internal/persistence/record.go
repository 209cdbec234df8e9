package persistence

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xsquant/crosseval/internal/engine"
)

// BuildRunRecord flattens a run summary into its persisted form.
func BuildRunRecord(s *engine.RunSummary) (RunRecord, error) {
	importances, err := json.Marshal(s.Importances)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal importances: %w", err)
	}
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal config: %w", err)
	}

	rec := RunRecord{
		RunID:       s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Aborted:     s.Aborted,
		DailyICMean: nanToZero(s.DailyIC.Mean),
		DailyICStd:  nanToZero(s.DailyIC.Std),
		DailyICIR:   nanToZero(s.DailyIC.IR),
		CVIC:        nanToZero(s.CVIC),
		Direction:   s.Direction,
		Importances: importances,
		Config:      cfg,
	}
	if s.Backtest != nil {
		rec.TotalReturn = nanToZero(s.Backtest.Stats.TotalReturn)
		rec.AnnReturn = nanToZero(s.Backtest.Stats.AnnReturn)
		rec.Sharpe = nanToZero(s.Backtest.Stats.Sharpe)
		rec.MaxDrawdown = nanToZero(s.Backtest.Stats.MaxDrawdown)
		rec.AvgTurnover = nanToZero(s.Backtest.Stats.AvgTurnover)
	}
	return rec, nil
}

// BuildLedgerRows converts a run's backtest ledger for persistence.
func BuildLedgerRows(s *engine.RunSummary) ([]LedgerRow, error) {
	if s.Backtest == nil {
		return nil, nil
	}
	rows := make([]LedgerRow, 0, len(s.Backtest.Entries))
	for _, e := range s.Backtest.Entries {
		holdings, err := json.Marshal(e.Holdings)
		if err != nil {
			return nil, fmt.Errorf("marshal holdings at %s: %w", e.RebalanceDate, err)
		}
		rows = append(rows, LedgerRow{
			RunID:         s.RunID,
			RebalanceDate: e.RebalanceDate,
			EntryDate:     e.EntryDate,
			ExitDate:      e.ExitDate,
			Holdings:      holdings,
			Turnover:      e.Turnover,
			Gross:         e.Gross,
			Cost:          e.Cost,
			Net:           e.Net,
		})
	}
	return rows, nil
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

package correlation

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"opsec-attrib/internal/signal"
)

// Summary aggregates counts over the engine's current state.
type Summary struct {
	TotalSignals             int            `json:"total_signals"`
	SignalsByLayer           map[string]int `json:"signals_by_layer"`
	TotalCorrelations        int            `json:"total_correlations"`
	CorrelationsByConfidence map[string]int `json:"correlations_by_confidence"`
}

// Report is a point-in-time snapshot of the engine: every accumulated
// signal, every stored correlation, and derived aggregates. Array fields
// are always present, possibly empty; highest_risk_correlation is null
// when no correlations exist.
type Report struct {
	Timestamp            string          `json:"timestamp"`
	Summary              Summary         `json:"summary"`
	HighestRisk          *ResultObject   `json:"highest_risk_correlation"`
	CriticalCorrelations []ResultObject  `json:"critical_correlations"`
	AllCorrelations      []ResultObject  `json:"all_correlations"`
	AllSignals           []signal.Object `json:"all_signals"`
}

// GenerateReport builds an attribution report from the engine's current
// signals and stored correlations. It does not re-run correlation.
func (e *Engine) GenerateReport() *Report {
	byLayer := make(map[string]int)
	for _, s := range e.signals {
		byLayer[string(s.Layer)]++
	}

	byConfidence := make(map[string]int)
	for _, c := range e.correlations {
		byConfidence[string(c.Confidence)]++
	}

	var highest *ResultObject
	if len(e.correlations) > 0 {
		best := 0
		for i := 1; i < len(e.correlations); i++ {
			if e.correlations[i].Score > e.correlations[best].Score {
				best = i
			}
		}
		obj := e.correlations[best].Object()
		highest = &obj
	}

	critical := make([]ResultObject, 0)
	for _, c := range e.Critical() {
		critical = append(critical, c.Object())
	}

	all := make([]ResultObject, 0, len(e.correlations))
	for i := range e.correlations {
		all = append(all, e.correlations[i].Object())
	}

	signals := make([]signal.Object, 0, len(e.signals))
	for i := range e.signals {
		signals = append(signals, e.signals[i].Object())
	}

	return &Report{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Summary: Summary{
			TotalSignals:             len(e.signals),
			SignalsByLayer:           byLayer,
			TotalCorrelations:        len(e.correlations),
			CorrelationsByConfidence: byConfidence,
		},
		HighestRisk:          highest,
		CriticalCorrelations: critical,
		AllCorrelations:      all,
		AllSignals:           signals,
	}
}

// Encode serializes the report as indented JSON.
func (r *Report) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// ExportReport generates a report and writes it to path as indented JSON.
// Returns the report so callers can reuse it without re-generating.
func (e *Engine) ExportReport(path string) (*Report, error) {
	report := e.GenerateReport()
	data, err := report.Encode()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return report, nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"opsec-attrib/internal/correlation"
)

// CorrelationWriter archives correlation results, one row per result per
// run. Runs are small (bounded by the active rule set), so results are
// written synchronously without buffering.
type CorrelationWriter struct {
	client *ClickHouseClient
}

// NewCorrelationWriter creates a new CorrelationWriter.
func NewCorrelationWriter(client *ClickHouseClient) *CorrelationWriter {
	return &CorrelationWriter{client: client}
}

// WriteRun archives the results of one correlation run under a fresh run ID.
func (w *CorrelationWriter) WriteRun(ctx context.Context, runTime time.Time, results []correlation.Result) (uuid.UUID, error) {
	runID := uuid.New()
	if len(results) == 0 {
		return runID, nil
	}

	batch, err := w.client.PrepareBatch(ctx, `
		INSERT INTO correlations (
			run_id, run_ts, correlation_type, score, confidence,
			risk_level, explanation, signal_count, signal_layers, signals
		)
	`)
	if err != nil {
		return runID, fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range results {
		obj := results[i].Object()

		signals, err := json.Marshal(obj.Signals)
		if err != nil {
			return runID, fmt.Errorf("failed to encode signals: %w", err)
		}

		err = batch.Append(
			runID,
			runTime,
			obj.CorrelationType,
			obj.CorrelationScore,
			obj.AttributionConfidence,
			obj.RiskLevel,
			obj.Explanation,
			uint32(obj.SignalCount),
			obj.SignalLayers,
			string(signals),
		)
		if err != nil {
			return runID, fmt.Errorf("failed to append correlation: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return runID, NewStorageError("Insert", "correlations", err)
	}

	return runID, nil
}

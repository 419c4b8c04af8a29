// Package pipeline connects ingested signal batches to the correlation
// engine and fans completed reports out to the configured sinks.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/reportcache"
	"opsec-attrib/internal/signal"
	"opsec-attrib/internal/storage"
	"opsec-attrib/internal/storage/s3"
)

// Config holds pipeline coordinator configuration.
type Config struct {
	// Interval between correlation runs.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// ExportPath is where the latest report JSON is written. Empty disables
	// file export.
	ExportPath string `json:"export_path" yaml:"export_path"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   time.Minute,
		ExportPath: "reports/attribution.json",
	}
}

// Sinks holds the optional downstream destinations for correlation output.
// Any nil sink is skipped.
type Sinks struct {
	// Signals archives every accepted batch to ClickHouse.
	Signals *storage.BatchWriter

	// Correlations records each correlation run to ClickHouse.
	Correlations *storage.CorrelationWriter

	// Archiver uploads each report to object storage.
	Archiver *s3.Archiver

	// Cache keeps the latest report and mitigations in Redis.
	Cache *reportcache.Cache
}

// Coordinator owns the correlation engine. It accepts validated batches from
// the consumer, runs correlation on a timer, and distributes results.
// The engine itself is not synchronized; all access goes through the
// coordinator's mutex.
type Coordinator struct {
	config Config
	engine *correlation.Engine
	sinks  Sinks
	logger *slog.Logger

	mu   sync.Mutex
	wg   sync.WaitGroup
	done chan struct{}

	batchesAccepted atomic.Uint64
	signalsAccepted atomic.Uint64
	runs            atomic.Uint64
	sinkErrors      atomic.Uint64
}

// New creates a pipeline coordinator.
func New(cfg Config, engine *correlation.Engine, sinks Sinks, logger *slog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		config: cfg,
		engine: engine,
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Accept adds a validated batch to the engine and forwards it to signal
// storage. Implements the consumer sink interface.
func (c *Coordinator) Accept(batch *signal.Batch) error {
	c.mu.Lock()
	c.engine.AddSignals(batch.Signals)
	c.mu.Unlock()

	c.batchesAccepted.Add(1)
	c.signalsAccepted.Add(uint64(len(batch.Signals)))

	if c.sinks.Signals != nil {
		if err := c.sinks.Signals.Write(batch); err != nil {
			// Archival is best effort; the batch is already in the engine.
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to archive signal batch",
				"batch_id", batch.BatchID,
				"error", err,
			)
		}
	}

	return nil
}

// Start launches the periodic correlation loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				if _, err := c.RunOnce(ctx); err != nil {
					c.logger.Error("correlation run failed", "error", err)
				}
			}
		}
	}()

	c.logger.Info("pipeline coordinator started", "interval", c.config.Interval)
}

// RunOnce performs a single correlation pass and distributes the report to
// every configured sink. Sink failures are logged, never fatal.
func (c *Coordinator) RunOnce(ctx context.Context) (*correlation.Report, error) {
	runStart := time.Now().UTC()

	c.mu.Lock()
	results := c.engine.CorrelateAll()
	report := c.engine.GenerateReport()
	recs := c.engine.Mitigations()
	c.mu.Unlock()

	c.runs.Add(1)

	c.logger.Info("correlation run complete",
		"signals", report.Summary.TotalSignals,
		"correlations", len(results),
		"mitigations", len(recs),
		"elapsed", time.Since(runStart),
	)

	if c.config.ExportPath != "" {
		if err := writeReport(c.config.ExportPath, report); err != nil {
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to export report", "path", c.config.ExportPath, "error", err)
		}
		if err := writeMitigations(MitigationsPath(c.config.ExportPath), recs); err != nil {
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to export mitigations", "error", err)
		}
	}

	if c.sinks.Correlations != nil {
		if _, err := c.sinks.Correlations.WriteRun(ctx, runStart, results); err != nil {
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to record correlation run", "error", err)
		}
	}

	if c.sinks.Archiver != nil {
		if _, err := c.sinks.Archiver.Archive(ctx, report); err != nil {
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to archive report", "error", err)
		}
	}

	if c.sinks.Cache != nil {
		if err := c.sinks.Cache.StoreLatest(ctx, report); err != nil {
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to cache report", "error", err)
		}
		if err := c.sinks.Cache.StoreMitigations(ctx, recs); err != nil {
			c.sinkErrors.Add(1)
			c.logger.Warn("failed to cache mitigations", "error", err)
		}
	}

	return report, nil
}

// MitigationsPath returns the mitigations file written next to a report
// export path.
func MitigationsPath(exportPath string) string {
	return filepath.Join(filepath.Dir(exportPath), "mitigations.json")
}

// writeMitigations writes the recommendation list next to the report.
func writeMitigations(path string, recs []correlation.Recommendation) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// writeReport writes the report JSON, creating parent directories as needed.
func writeReport(path string, report *correlation.Report) error {
	data, err := report.Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Mitigations returns recommendations for the current correlation state.
func (c *Coordinator) Mitigations() []correlation.Recommendation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Mitigations()
}

// HighRisk returns the current high risk correlations.
func (c *Coordinator) HighRisk() []correlation.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.HighRisk()
}

// Stop halts the correlation loop. In-flight runs complete first.
func (c *Coordinator) Stop() {
	close(c.done)
	c.wg.Wait()

	c.logger.Info("pipeline coordinator stopped",
		"batches_accepted", c.batchesAccepted.Load(),
		"signals_accepted", c.signalsAccepted.Load(),
		"runs", c.runs.Load(),
		"sink_errors", c.sinkErrors.Load(),
	)
}

// Metrics holds coordinator counters.
type Metrics struct {
	BatchesAccepted uint64
	SignalsAccepted uint64
	Runs            uint64
	SinkErrors      uint64
}

// Metrics returns current coordinator metrics.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		BatchesAccepted: c.batchesAccepted.Load(),
		SignalsAccepted: c.signalsAccepted.Load(),
		Runs:            c.runs.Load(),
		SinkErrors:      c.sinkErrors.Load(),
	}
}

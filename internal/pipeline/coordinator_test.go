package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/reportcache"
	"opsec-attrib/internal/signal"
)

func newTestCoordinator(cfg Config, sinks Sinks) *Coordinator {
	engine := correlation.NewEngine(correlation.DefaultEngineConfig(), nil)
	return New(cfg, engine, sinks, nil)
}

func dnsSignal(ts time.Time) signal.Signal {
	return signal.Signal{
		ID:            "public_resolver_8_8_8_8",
		Layer:         signal.LayerDNS,
		Description:   "system resolver is a public DNS service",
		Value:         "8.8.8.8",
		Timestamp:     ts,
		Potential:     signal.StrengthPair,
		Detectability: signal.DetectabilityTrivial,
	}
}

func networkSignal(ts time.Time) signal.Signal {
	return signal.Signal{
		ID:            "as_path_length",
		Layer:         signal.LayerNetwork,
		Description:   "AS path reveals upstream provider",
		Value:         "3",
		Timestamp:     ts,
		Potential:     signal.StrengthPair,
		Detectability: signal.DetectabilityModerate,
	}
}

func TestAcceptAddsSignals(t *testing.T) {
	c := newTestCoordinator(Config{Interval: time.Hour}, Sinks{})

	now := time.Now().UTC()
	batch := signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now), networkSignal(now)})

	if err := c.Accept(batch); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	metrics := c.Metrics()
	if metrics.BatchesAccepted != 1 {
		t.Errorf("BatchesAccepted = %d, want 1", metrics.BatchesAccepted)
	}
	if metrics.SignalsAccepted != 2 {
		t.Errorf("SignalsAccepted = %d, want 2", metrics.SignalsAccepted)
	}
}

func TestRunOnceGeneratesReport(t *testing.T) {
	c := newTestCoordinator(Config{Interval: time.Hour}, Sinks{})

	now := time.Now().UTC()
	c.Accept(signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now)}))
	c.Accept(signal.NewBatch("network-detector", []signal.Signal{networkSignal(now)}))

	report, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Summary.TotalSignals != 2 {
		t.Errorf("TotalSignals = %d, want 2", report.Summary.TotalSignals)
	}
	// DNS resolver + network AS is a known cross-layer pattern, and both
	// signals share a temporal window.
	if report.Summary.TotalCorrelations == 0 {
		t.Error("expected at least one correlation")
	}
	if c.Metrics().Runs != 1 {
		t.Errorf("Runs = %d, want 1", c.Metrics().Runs)
	}
}

func TestRunOnceExportsReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "attribution.json")
	c := newTestCoordinator(Config{Interval: time.Hour, ExportPath: path}, Sinks{})

	now := time.Now().UTC()
	c.Accept(signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now)}))

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var report correlation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("exported report is not valid JSON: %v", err)
	}
	if report.Summary.TotalSignals != 1 {
		t.Errorf("exported TotalSignals = %d, want 1", report.Summary.TotalSignals)
	}

	recData, err := os.ReadFile(MitigationsPath(path))
	if err != nil {
		t.Fatalf("ReadFile(mitigations) error = %v", err)
	}
	var recs []correlation.Recommendation
	if err := json.Unmarshal(recData, &recs); err != nil {
		t.Fatalf("exported mitigations are not valid JSON: %v", err)
	}
}

func TestRunOnceUpdatesCache(t *testing.T) {
	cache := reportcache.New(reportcache.NewMemoryStore(), time.Hour, nil)
	c := newTestCoordinator(Config{Interval: time.Hour}, Sinks{Cache: cache})

	now := time.Now().UTC()
	c.Accept(signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now), networkSignal(now)}))

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	cached, err := cache.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if cached.Summary.TotalSignals != 2 {
		t.Errorf("cached TotalSignals = %d, want 2", cached.Summary.TotalSignals)
	}

	recs, err := cache.Mitigations(context.Background())
	if err != nil {
		t.Fatalf("Mitigations() error = %v", err)
	}
	if len(recs) == 0 {
		t.Error("expected cached mitigation recommendations")
	}
}

func TestRunOnceToleratesSinkFailure(t *testing.T) {
	store := reportcache.NewMemoryStore()
	store.Close() // every cache write will fail
	cache := reportcache.New(store, time.Hour, nil)

	c := newTestCoordinator(Config{Interval: time.Hour}, Sinks{Cache: cache})

	now := time.Now().UTC()
	c.Accept(signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now)}))

	report, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report == nil {
		t.Fatal("expected report despite sink failure")
	}
	if c.Metrics().SinkErrors == 0 {
		t.Error("expected sink error count")
	}
}

func TestStartRunsPeriodically(t *testing.T) {
	c := newTestCoordinator(Config{Interval: 20 * time.Millisecond}, Sinks{})

	now := time.Now().UTC()
	c.Accept(signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now)}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Metrics().Runs >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Stop()

	if runs := c.Metrics().Runs; runs < 2 {
		t.Errorf("Runs = %d, want >= 2", runs)
	}
}

func TestMitigationsAndHighRisk(t *testing.T) {
	c := newTestCoordinator(Config{Interval: time.Hour}, Sinks{})

	now := time.Now().UTC()
	c.Accept(signal.NewBatch("dns-detector", []signal.Signal{dnsSignal(now), networkSignal(now)}))

	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(c.HighRisk()) == 0 {
		t.Error("expected high risk correlations")
	}

	recs := c.Mitigations()
	if len(recs) == 0 {
		t.Fatal("expected mitigation recommendations")
	}
	if recs[0].Issue == "" {
		t.Error("recommendation missing issue")
	}
}

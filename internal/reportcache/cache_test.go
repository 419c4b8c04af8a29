package reportcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/signal"
)

func reportFixture(t *testing.T) *correlation.Report {
	t.Helper()

	engine := correlation.NewEngine(correlation.DefaultEngineConfig(), nil)
	engine.AddSignals([]signal.Signal{
		{
			ID:            "public_resolver_8_8_8_8",
			Layer:         signal.LayerDNS,
			Description:   "system resolver is a public DNS service",
			Value:         "8.8.8.8",
			Timestamp:     time.Now().UTC(),
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityTrivial,
		},
		{
			ID:            "as_path_length",
			Layer:         signal.LayerNetwork,
			Description:   "AS path reveals upstream provider",
			Value:         "3",
			Timestamp:     time.Now().UTC(),
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityModerate,
		},
	})
	engine.CorrelateAll()
	return engine.GenerateReport()
}

func TestCacheRoundTrip(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour, nil)
	ctx := context.Background()

	report := reportFixture(t)
	if err := cache.StoreLatest(ctx, report); err != nil {
		t.Fatalf("StoreLatest() error = %v", err)
	}

	got, err := cache.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}

	if got.Summary.TotalSignals != report.Summary.TotalSignals {
		t.Errorf("TotalSignals = %d, want %d", got.Summary.TotalSignals, report.Summary.TotalSignals)
	}
	if got.Summary.TotalCorrelations != report.Summary.TotalCorrelations {
		t.Errorf("TotalCorrelations = %d, want %d",
			got.Summary.TotalCorrelations, report.Summary.TotalCorrelations)
	}
}

func TestLatestWhenEmpty(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour, nil)

	_, err := cache.Latest(context.Background())
	if !errors.Is(err, ErrNotCached) {
		t.Errorf("Latest() error = %v, want ErrNotCached", err)
	}
}

func TestLatestAfterExpiry(t *testing.T) {
	cache := New(NewMemoryStore(), time.Millisecond, nil)
	ctx := context.Background()

	if err := cache.StoreLatest(ctx, reportFixture(t)); err != nil {
		t.Fatalf("StoreLatest() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	_, err := cache.Latest(ctx)
	if !errors.Is(err, ErrNotCached) {
		t.Errorf("Latest() after expiry error = %v, want ErrNotCached", err)
	}
}

func TestMitigationsRoundTrip(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour, nil)
	ctx := context.Background()

	recs := []correlation.Recommendation{
		{
			Priority:       "CRITICAL",
			Issue:          "DNS resolver and network AS mismatch",
			Recommendation: "Use DNS resolver in same AS as VPN exit, or deploy private recursive resolver",
			Layers:         []string{"DNS", "NETWORK"},
		},
	}

	if err := cache.StoreMitigations(ctx, recs); err != nil {
		t.Fatalf("StoreMitigations() error = %v", err)
	}

	got, err := cache.Mitigations(ctx)
	if err != nil {
		t.Fatalf("Mitigations() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(Mitigations()) = %d, want 1", len(got))
	}
	if got[0].Issue != recs[0].Issue {
		t.Errorf("Issue = %q, want %q", got[0].Issue, recs[0].Issue)
	}
}

func TestInvalidate(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour, nil)
	ctx := context.Background()

	if err := cache.StoreLatest(ctx, reportFixture(t)); err != nil {
		t.Fatalf("StoreLatest() error = %v", err)
	}
	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if _, err := cache.Latest(ctx); !errors.Is(err, ErrNotCached) {
		t.Errorf("Latest() after invalidate error = %v, want ErrNotCached", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	store.Close()

	if err := store.Set(context.Background(), "k", []byte("v"), 0); err == nil {
		t.Error("Set() on closed store should fail")
	}
	if _, err := store.Get(context.Background(), "k"); err == nil {
		t.Error("Get() on closed store should fail")
	}
}

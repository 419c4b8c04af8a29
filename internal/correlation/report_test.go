package correlation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"opsec-attrib/internal/signal"
)

func TestGenerateReportEmptyEngine(t *testing.T) {
	engine := newTestEngine(t)
	report := engine.GenerateReport()

	if report.Summary.TotalSignals != 0 {
		t.Errorf("total_signals = %d, want 0", report.Summary.TotalSignals)
	}
	if report.Summary.TotalCorrelations != 0 {
		t.Errorf("total_correlations = %d, want 0", report.Summary.TotalCorrelations)
	}
	if report.HighestRisk != nil {
		t.Errorf("highest_risk_correlation = %+v, want nil", report.HighestRisk)
	}

	data, err := report.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	// Array fields serialize as [], not null.
	for _, field := range []string{"critical_correlations", "all_correlations", "all_signals"} {
		if strings.Contains(string(data), `"`+field+`": null`) {
			t.Errorf("field %s serialized as null", field)
		}
	}
	if !strings.Contains(string(data), `"highest_risk_correlation": null`) {
		t.Error("highest_risk_correlation should serialize as null when absent")
	}
}

func TestGenerateReport(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddSignals([]signal.Signal{
		timedSignal("timezone", signal.LayerUserland, signal.StrengthSolo, bucketBase),
		timedSignal("public_resolver_8_8_8_8", signal.LayerDNS, signal.StrengthSolo, bucketBase.Add(10*time.Second)),
		timedSignal("as_path_length", signal.LayerNetwork, signal.StrengthWeak, bucketBase.Add(900*time.Second)),
	})
	engine.CorrelateAll()

	report := engine.GenerateReport()

	if report.Summary.TotalSignals != 3 {
		t.Errorf("total_signals = %d, want 3", report.Summary.TotalSignals)
	}
	wantLayers := map[string]int{"userland": 1, "dns": 1, "network": 1}
	for layer, want := range wantLayers {
		if got := report.Summary.SignalsByLayer[layer]; got != want {
			t.Errorf("signals_by_layer[%s] = %d, want %d", layer, got, want)
		}
	}
	if report.Summary.TotalCorrelations != len(engine.Correlations()) {
		t.Errorf("total_correlations = %d, want %d", report.Summary.TotalCorrelations, len(engine.Correlations()))
	}

	var confidenceTotal int
	for _, n := range report.Summary.CorrelationsByConfidence {
		confidenceTotal += n
	}
	if confidenceTotal != report.Summary.TotalCorrelations {
		t.Errorf("confidence counts sum to %d, want %d", confidenceTotal, report.Summary.TotalCorrelations)
	}

	if report.HighestRisk == nil {
		t.Fatal("highest_risk_correlation missing")
	}
	for _, c := range report.AllCorrelations {
		if c.CorrelationScore > report.HighestRisk.CorrelationScore {
			t.Errorf("highest_risk_correlation score %v below correlation score %v",
				report.HighestRisk.CorrelationScore, c.CorrelationScore)
		}
	}

	if len(report.AllSignals) != 3 {
		t.Errorf("all_signals has %d entries, want 3", len(report.AllSignals))
	}
	if _, err := time.Parse(time.RFC3339Nano, report.Timestamp); err != nil {
		t.Errorf("report timestamp %q not RFC3339: %v", report.Timestamp, err)
	}
}

func TestExportReport(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddSignals([]signal.Signal{
		timedSignal("timezone", signal.LayerUserland, signal.StrengthSolo, bucketBase),
		timedSignal("public_resolver_8_8_8_8", signal.LayerDNS, signal.StrengthSolo, bucketBase.Add(10*time.Second)),
	})
	engine.CorrelateAll()

	path := filepath.Join(t.TempDir(), "report.json")
	exported, err := engine.ExportReport(path)
	if err != nil {
		t.Fatalf("ExportReport() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported report: %v", err)
	}
	var parsed Report
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("exported report is not valid JSON: %v", err)
	}

	if parsed.Summary.TotalSignals != exported.Summary.TotalSignals {
		t.Errorf("round-trip total_signals = %d, want %d",
			parsed.Summary.TotalSignals, exported.Summary.TotalSignals)
	}
	if parsed.Summary.TotalCorrelations != exported.Summary.TotalCorrelations {
		t.Errorf("round-trip total_correlations = %d, want %d",
			parsed.Summary.TotalCorrelations, exported.Summary.TotalCorrelations)
	}
	if len(parsed.AllSignals) != 2 {
		t.Errorf("round-trip all_signals has %d entries, want 2", len(parsed.AllSignals))
	}
}

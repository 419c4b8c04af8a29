package correlation

import (
	"math"
	"testing"
	"time"

	"opsec-attrib/internal/signal"
)

func testSignal(id string, layer signal.Layer, strength signal.Strength) signal.Signal {
	return signal.Signal{
		ID:            id,
		Layer:         layer,
		Description:   "test signal",
		Timestamp:     time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Potential:     strength,
		Detectability: signal.DetectabilityModerate,
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		signals []signal.Signal
		want    float64
	}{
		{
			name:    "empty group",
			signals: nil,
			want:    0.0,
		},
		{
			name: "single solo signal",
			signals: []signal.Signal{
				testSignal("timezone", signal.LayerUserland, signal.StrengthSolo),
			},
			want: 0.8,
		},
		{
			name: "two solo signals same layer",
			signals: []signal.Signal{
				testSignal("timezone", signal.LayerUserland, signal.StrengthSolo),
				testSignal("locale", signal.LayerUserland, signal.StrengthSolo),
			},
			want: 0.96,
		},
		{
			name: "two solo signals two layers clamps at one",
			signals: []signal.Signal{
				testSignal("timezone", signal.LayerUserland, signal.StrengthSolo),
				testSignal("public_resolver", signal.LayerDNS, signal.StrengthSolo),
			},
			want: 1.0,
		},
		{
			name: "single weak signal",
			signals: []signal.Signal{
				testSignal("mtu_value", signal.LayerNetwork, signal.StrengthWeak),
			},
			want: 0.1,
		},
		{
			name: "pair signals across two layers",
			signals: []signal.Signal{
				testSignal("public_resolver", signal.LayerDNS, signal.StrengthPair),
				testSignal("as_path_length", signal.LayerNetwork, signal.StrengthPair),
			},
			want: 0.832,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.signals)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreNeverExceedsOne(t *testing.T) {
	var signals []signal.Signal
	layers := []signal.Layer{
		signal.LayerUserland, signal.LayerKernel, signal.LayerDNS,
		signal.LayerNetwork, signal.LayerMetadata,
	}
	for _, layer := range layers {
		signals = append(signals,
			testSignal("a_signal", layer, signal.StrengthSolo),
			testSignal("b_signal", layer, signal.StrengthSolo),
		)
		if got := Score(signals); got > 1.0 {
			t.Fatalf("Score() = %v with %d signals, want <= 1.0", got, len(signals))
		}
	}
}

func TestAssess(t *testing.T) {
	tests := []struct {
		score float64
		want  Confidence
	}{
		{1.0, ConfidenceCritical},
		{0.9, ConfidenceCritical},
		{0.89999, ConfidenceHigh},
		{0.7, ConfidenceHigh},
		{0.69999, ConfidenceMedium},
		{0.4, ConfidenceMedium},
		{0.39999, ConfidenceLow},
		{0.0, ConfidenceLow},
	}

	for _, tt := range tests {
		if got := Assess(tt.score); got != tt.want {
			t.Errorf("Assess(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		name       string
		confidence Confidence
		count      int
		want       RiskLevel
	}{
		{"critical confidence", ConfidenceCritical, 1, RiskCritical},
		{"low confidence escalated by count", ConfidenceLow, 5, RiskCritical},
		{"four signals always critical", ConfidenceMedium, 4, RiskCritical},
		{"high confidence", ConfidenceHigh, 2, RiskHigh},
		{"three signals at least high", ConfidenceLow, 3, RiskHigh},
		{"medium confidence", ConfidenceMedium, 2, RiskMedium},
		{"low confidence small group", ConfidenceLow, 2, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessRisk(tt.confidence, tt.count); got != tt.want {
				t.Errorf("AssessRisk(%v, %d) = %v, want %v", tt.confidence, tt.count, got, tt.want)
			}
		})
	}
}

package network

import (
	"testing"
	"time"

	"opsec-attrib/internal/signal"
)

func TestASPathAnalyzer(t *testing.T) {
	a := NewASPathAnalyzer(map[string]string{"AS64666": "Bulletproof hosting"})
	now := time.Now().UTC()

	signals := a.Analyze(RoutingData{
		ASPath:         []string{"AS64666", "AS6939", "AS174"},
		GeographicPath: []string{"SE", "DE", "US"},
	}, now)

	ids := make(map[string]signal.Signal, len(signals))
	for _, s := range signals {
		ids[s.ID] = s
	}

	if _, ok := ids["high_risk_as_AS64666"]; !ok {
		t.Error("expected high_risk_as signal for listed origin")
	}

	pathLen, ok := ids["as_path_length"]
	if !ok {
		t.Fatal("expected as_path_length signal")
	}
	if got := signal.RenderValue(pathLen.Value); got != "3" {
		t.Errorf("as_path_length Value = %q, want 3", got)
	}
	if pathLen.Layer != signal.LayerNetwork {
		t.Errorf("Layer = %v, want network", pathLen.Layer)
	}

	geo, ok := ids["geographic_routing"]
	if !ok {
		t.Fatal("expected geographic_routing signal")
	}
	if got := signal.RenderValue(geo.Value); got != "SE -> DE -> US" {
		t.Errorf("geographic_routing Value = %q", got)
	}
}

func TestASPathAnalyzerCleanOrigin(t *testing.T) {
	a := NewASPathAnalyzer(nil)

	signals := a.Analyze(RoutingData{
		ASPath:   []string{"AS64512", "AS174"},
		OriginAS: "AS64512",
	}, time.Now().UTC())

	for _, s := range signals {
		if s.ID == "high_risk_as_AS64512" {
			t.Error("unexpected high-risk signal with empty reputation list")
		}
	}
}

func TestASPathAnalyzerSingleHop(t *testing.T) {
	a := NewASPathAnalyzer(nil)

	// A single-hop path carries no length information.
	for _, s := range a.Analyze(RoutingData{ASPath: []string{"AS64512"}}, time.Now().UTC()) {
		if s.ID == "as_path_length" {
			t.Error("unexpected as_path_length signal for single-hop path")
		}
	}
}

func TestASPathAnalyzerEmpty(t *testing.T) {
	a := NewASPathAnalyzer(nil)

	if signals := a.Analyze(RoutingData{}, time.Now().UTC()); len(signals) != 0 {
		t.Errorf("len(signals) = %d, want 0", len(signals))
	}
}

func TestAsymmetryDetector(t *testing.T) {
	d := NewAsymmetryDetector()
	now := time.Now().UTC()

	tests := []struct {
		name  string
		paths PathData
		want  []string
	}{
		{
			name: "fully asymmetric paths",
			paths: PathData{
				InboundPath:  []string{"AS1", "AS2", "AS3"},
				OutboundPath: []string{"AS4", "AS5", "AS6"},
			},
			want: []string{"route_asymmetry"},
		},
		{
			name: "symmetric paths",
			paths: PathData{
				InboundPath:  []string{"AS1", "AS2", "AS3"},
				OutboundPath: []string{"AS3", "AS2", "AS1"},
			},
			want: nil,
		},
		{
			name: "geographic mismatch",
			paths: PathData{
				InboundGeo:  []string{"US", "DE", "SE"},
				OutboundGeo: []string{"SE", "FR", "BR"},
			},
			want: []string{"geographic_asymmetry"},
		},
		{
			name: "geographic round trip",
			paths: PathData{
				InboundGeo:  []string{"US", "DE", "SE"},
				OutboundGeo: []string{"SE", "FR", "US"},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := d.Analyze(tt.paths, now)

			got := make([]string, 0, len(signals))
			for _, s := range signals {
				got = append(got, s.ID)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("signal IDs = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("signal IDs = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestTrafficAnalyzerBeaconing(t *testing.T) {
	a := NewTrafficAnalyzer()
	base := time.Now().UTC()

	// 12 packets exactly 30s apart with identical sizes.
	packets := make([]Packet, 12)
	for i := range packets {
		packets[i] = Packet{
			Timestamp: base.Add(time.Duration(i) * 30 * time.Second),
			Size:      1420,
		}
	}

	signals := a.Analyze(packets, base)

	ids := make(map[string]bool, len(signals))
	for _, s := range signals {
		ids[s.ID] = true
	}

	if !ids["consistent_packet_sizes"] {
		t.Error("expected consistent_packet_sizes signal")
	}
	if !ids["periodic_traffic"] {
		t.Error("expected periodic_traffic signal")
	}
}

func TestTrafficAnalyzerJittered(t *testing.T) {
	a := NewTrafficAnalyzer()
	base := time.Now().UTC()

	// Irregular intervals and scattered sizes should produce nothing.
	offsets := []time.Duration{0, 2, 9, 11, 40, 45, 90, 100, 170, 200, 260, 400}
	sizes := []int{100, 1400, 600, 80, 1200, 300, 900, 64, 1500, 750, 410, 1340}

	packets := make([]Packet, len(offsets))
	for i := range packets {
		packets[i] = Packet{
			Timestamp: base.Add(offsets[i] * time.Second),
			Size:      sizes[i],
		}
	}

	if signals := a.Analyze(packets, base); len(signals) != 0 {
		t.Errorf("len(signals) = %d, want 0", len(signals))
	}
}

func TestTrafficAnalyzerTooFewPackets(t *testing.T) {
	a := NewTrafficAnalyzer()
	base := time.Now().UTC()

	packets := make([]Packet, 5)
	for i := range packets {
		packets[i] = Packet{Timestamp: base.Add(time.Duration(i) * time.Second), Size: 1420}
	}

	if signals := a.Analyze(packets, base); len(signals) != 0 {
		t.Errorf("len(signals) = %d, want 0", len(signals))
	}
}

func TestMTUAnalyzer(t *testing.T) {
	a := NewMTUAnalyzer()
	now := time.Now().UTC()

	signals := a.Analyze(MTUData{
		ObservedMTU:       1420,
		FragmentationSeen: true,
		FragmentSizes:     []int{1420, 800},
	}, now)

	if len(signals) != 2 {
		t.Fatalf("len(signals) = %d, want 2", len(signals))
	}

	if signals[0].ID != "mtu_1420" {
		t.Errorf("ID = %q, want mtu_1420", signals[0].ID)
	}
	if signals[0].Metadata["signature"] != "VPN + IPv6/GRE overhead" {
		t.Errorf("signature = %v", signals[0].Metadata["signature"])
	}
	if signals[1].ID != "fragmentation_detected" {
		t.Errorf("ID = %q, want fragmentation_detected", signals[1].ID)
	}
}

func TestMTUAnalyzerUnknownMTU(t *testing.T) {
	a := NewMTUAnalyzer()

	if signals := a.Analyze(MTUData{ObservedMTU: 1337}, time.Now().UTC()); len(signals) != 0 {
		t.Errorf("len(signals) = %d, want 0", len(signals))
	}
}

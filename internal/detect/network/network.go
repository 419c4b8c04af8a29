// Package network produces network-layer attribution signals from routing
// data: AS-path exposure, path asymmetry, traffic patterns, and MTU
// fingerprints.
package network

import (
	"fmt"
	"math"
	"strings"
	"time"

	"opsec-attrib/internal/signal"
)

// Source identifies batches produced by this package.
const Source = "network-detector"

// RoutingData is a snapshot of an observed BGP route.
type RoutingData struct {
	ASPath         []string `json:"as_path"`
	OriginAS       string   `json:"origin_as,omitempty"`
	DestinationAS  string   `json:"destination_as,omitempty"`
	GeographicPath []string `json:"geographic_path,omitempty"`
}

// ASPathAnalyzer flags AS-path exposure: origin reputation, path length,
// and geographic routing.
type ASPathAnalyzer struct {
	highRiskASNs map[string]string
}

// NewASPathAnalyzer creates an AS-path analyzer with an optional reputation
// list mapping ASN to a description.
func NewASPathAnalyzer(highRiskASNs map[string]string) *ASPathAnalyzer {
	if highRiskASNs == nil {
		highRiskASNs = make(map[string]string)
	}
	return &ASPathAnalyzer{highRiskASNs: highRiskASNs}
}

// Analyze inspects a route for attribution risk.
func (a *ASPathAnalyzer) Analyze(route RoutingData, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if len(route.ASPath) == 0 {
		return signals
	}

	origin := route.OriginAS
	if origin == "" {
		origin = route.ASPath[0]
	}

	if reputation, ok := a.highRiskASNs[origin]; ok {
		signals = append(signals, signal.Signal{
			ID:            "high_risk_as_" + origin,
			Layer:         signal.LayerNetwork,
			Description:   "Traffic originates from high-risk AS",
			Value:         origin,
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"as":         origin,
				"reputation": reputation,
				"risk":       "AS reputation can trigger threat intelligence alerts",
			},
		})
	}

	if len(route.ASPath) > 1 {
		signals = append(signals, signal.Signal{
			ID:            "as_path_length",
			Layer:         signal.LayerNetwork,
			Description:   "AS-path length",
			Value:         len(route.ASPath),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"hop_count": len(route.ASPath),
				"as_path":   route.ASPath,
				"risk":      "Path length enables geographic distance estimation",
			},
		})
	}

	if len(route.GeographicPath) > 0 {
		signals = append(signals, signal.Signal{
			ID:            "geographic_routing",
			Layer:         signal.LayerNetwork,
			Description:   "Geographic routing path",
			Value:         strings.Join(route.GeographicPath, " -> "),
			Timestamp:     now,
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"path": route.GeographicPath,
				"risk": "Routing path reveals infrastructure geography",
			},
		})
	}

	return signals
}

// PathData describes inbound and outbound routing paths for one flow.
type PathData struct {
	InboundPath  []string `json:"inbound_path"`
	OutboundPath []string `json:"outbound_path"`
	InboundGeo   []string `json:"inbound_geo,omitempty"`
	OutboundGeo  []string `json:"outbound_geo,omitempty"`
}

// AsymmetryDetector flags routing asymmetry between inbound and outbound
// paths, at AS and geographic granularity.
type AsymmetryDetector struct{}

// NewAsymmetryDetector creates an asymmetry detector.
func NewAsymmetryDetector() *AsymmetryDetector {
	return &AsymmetryDetector{}
}

// Analyze compares inbound and outbound paths.
func (d *AsymmetryDetector) Analyze(paths PathData, now time.Time) []signal.Signal {
	var signals []signal.Signal

	inbound := toSet(paths.InboundPath)
	outbound := toSet(paths.OutboundPath)

	if len(inbound) > 0 && len(outbound) > 0 {
		shared := 0
		for as := range inbound {
			if _, ok := outbound[as]; ok {
				shared++
			}
		}

		larger := len(inbound)
		if len(outbound) > larger {
			larger = len(outbound)
		}
		ratio := 1.0 - float64(shared)/float64(larger)

		if ratio > 0.5 {
			signals = append(signals, signal.Signal{
				ID:            "route_asymmetry",
				Layer:         signal.LayerNetwork,
				Description:   "Significant routing path asymmetry detected",
				Value:         fmt.Sprintf("%.0f%% path difference", ratio*100),
				Timestamp:     now,
				Potential:     signal.StrengthMulti,
				Detectability: signal.DetectabilityHard,
				Metadata: map[string]any{
					"inbound_path":    paths.InboundPath,
					"outbound_path":   paths.OutboundPath,
					"asymmetry_ratio": ratio,
					"risk":            "Asymmetry can reveal true location vs. VPN exit",
				},
			})
		}
	}

	if len(paths.InboundGeo) > 0 && len(paths.OutboundGeo) > 0 {
		origin := paths.InboundGeo[0]
		destination := paths.OutboundGeo[len(paths.OutboundGeo)-1]

		if origin != destination {
			signals = append(signals, signal.Signal{
				ID:            "geographic_asymmetry",
				Layer:         signal.LayerNetwork,
				Description:   "Geographic routing asymmetry",
				Value:         fmt.Sprintf("In: %s, Out: %s", origin, destination),
				Timestamp:     now,
				Potential:     signal.StrengthMulti,
				Detectability: signal.DetectabilityHard,
				Metadata: map[string]any{
					"inbound_countries":  paths.InboundGeo,
					"outbound_countries": paths.OutboundGeo,
					"risk":               "Geographic mismatch can expose VPN/proxy usage",
				},
			})
		}
	}

	return signals
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Packet is a single observed packet summary.
type Packet struct {
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"packet_size"`
	Direction string    `json:"direction,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
}

// TrafficAnalyzer flags traffic fingerprints: consistent packet sizes and
// periodic beaconing.
type TrafficAnalyzer struct{}

// NewTrafficAnalyzer creates a traffic analyzer.
func NewTrafficAnalyzer() *TrafficAnalyzer {
	return &TrafficAnalyzer{}
}

// minTrafficSamples is the smallest flow worth analyzing.
const minTrafficSamples = 10

// Analyze inspects a packet stream for fingerprintable patterns.
func (a *TrafficAnalyzer) Analyze(packets []Packet, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if len(packets) < minTrafficSamples {
		return signals
	}

	var sizeTotal float64
	for _, p := range packets {
		sizeTotal += float64(p.Size)
	}
	avgSize := sizeTotal / float64(len(packets))

	var sizeVariance float64
	for _, p := range packets {
		d := float64(p.Size) - avgSize
		sizeVariance += d * d
	}
	sizeVariance /= float64(len(packets))

	if sizeVariance < 100 {
		signals = append(signals, signal.Signal{
			ID:            "consistent_packet_sizes",
			Layer:         signal.LayerNetwork,
			Description:   "Highly consistent packet sizes detected",
			Value:         fmt.Sprintf("avg=%.0fB, var=%.1f", avgSize, sizeVariance),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"avg_size": avgSize,
				"variance": sizeVariance,
				"risk":     "Packet size patterns can fingerprint application/protocol",
			},
		})
	}

	intervals := make([]float64, 0, len(packets)-1)
	for i := 1; i < len(packets); i++ {
		intervals = append(intervals, packets[i].Timestamp.Sub(packets[i-1].Timestamp).Seconds())
	}

	var total float64
	for _, iv := range intervals {
		total += iv
	}
	avgInterval := total / float64(len(intervals))

	if avgInterval > 0 {
		var variance float64
		for _, iv := range intervals {
			d := iv - avgInterval
			variance += d * d
		}
		variance /= float64(len(intervals))
		cv := math.Sqrt(variance) / avgInterval

		// A near-constant inter-packet interval is the beaconing signature.
		if cv < 0.1 {
			signals = append(signals, signal.Signal{
				ID:            "periodic_traffic",
				Layer:         signal.LayerNetwork,
				Description:   "Periodic traffic pattern detected (potential beaconing)",
				Value:         fmt.Sprintf("%.2fs interval", avgInterval),
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityModerate,
				Metadata: map[string]any{
					"avg_interval_sec":         avgInterval,
					"coefficient_of_variation": cv,
					"packet_count":             len(packets),
					"risk":                     "Beaconing patterns strongly fingerprint C2 behavior",
				},
			})
		}
	}

	return signals
}

// MTUData is an observed path MTU summary.
type MTUData struct {
	ObservedMTU       int   `json:"observed_mtu"`
	FragmentationSeen bool  `json:"fragmentation_seen"`
	FragmentSizes     []int `json:"fragment_sizes,omitempty"`
}

// mtuSignatures maps common MTU values to the path type they reveal.
var mtuSignatures = map[int]string{
	1500: "Ethernet (default)",
	1492: "PPPoE (DSL)",
	1480: "VPN overhead reduced",
	1420: "VPN + IPv6/GRE overhead",
	1280: "IPv6 minimum MTU",
	576:  "Internet minimum MTU",
}

// MTUAnalyzer flags MTU values and fragmentation behavior that fingerprint
// the network path.
type MTUAnalyzer struct{}

// NewMTUAnalyzer creates an MTU analyzer.
func NewMTUAnalyzer() *MTUAnalyzer {
	return &MTUAnalyzer{}
}

// Analyze inspects MTU observations.
func (a *MTUAnalyzer) Analyze(mtu MTUData, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if sig, ok := mtuSignatures[mtu.ObservedMTU]; ok {
		signals = append(signals, signal.Signal{
			ID:            fmt.Sprintf("mtu_%d", mtu.ObservedMTU),
			Layer:         signal.LayerNetwork,
			Description:   "MTU fingerprint detected",
			Value:         fmt.Sprintf("%d bytes", mtu.ObservedMTU),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"mtu":       mtu.ObservedMTU,
				"signature": sig,
				"risk":      "MTU reveals network path type (VPN, DSL, etc.)",
			},
		})
	}

	if mtu.FragmentationSeen {
		signals = append(signals, signal.Signal{
			ID:            "fragmentation_detected",
			Layer:         signal.LayerNetwork,
			Description:   "IP fragmentation observed",
			Value:         fmt.Sprintf("%v", mtu.FragmentSizes),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"fragment_sizes": mtu.FragmentSizes,
				"risk":           "Fragmentation patterns fingerprint network equipment",
			},
		})
	}

	return signals
}

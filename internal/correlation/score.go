// Package correlation implements multi-layer signal correlation for
// attribution risk detection. It groups accumulated signals by time and by
// cross-layer relationship, scores the groups, and derives reports and
// mitigation recommendations.
package correlation

import (
	"math"

	"opsec-attrib/internal/signal"
)

// Confidence bands a correlation score into an attribution confidence level.
type Confidence string

const (
	ConfidenceLow      Confidence = "LOW"
	ConfidenceMedium   Confidence = "MEDIUM"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceCritical Confidence = "CRITICAL"
)

// RiskLevel is the derived operational severity of a correlation.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL - OPSEC COMPROMISED"
	RiskHigh     RiskLevel = "HIGH - ATTRIBUTION LIKELY"
	RiskMedium   RiskLevel = "MEDIUM - CORRELATION POSSIBLE"
	RiskLow      RiskLevel = "LOW - INSUFFICIENT CORRELATION"
)

// baseStrength maps a signal's correlation potential to its standalone
// contribution to a group score.
var baseStrength = map[signal.Strength]float64{
	signal.StrengthSolo:  0.8,
	signal.StrengthPair:  0.4,
	signal.StrengthMulti: 0.2,
	signal.StrengthWeak:  0.1,
}

// Score computes the combined correlation score for a group of signals.
//
// The model is exponential saturation: a group of n signals with mean base
// strength avg scores 1-(1-avg)^n, then a 30% bonus per distinct layer
// beyond the first scales the result, clamped to 1.0.
func Score(signals []signal.Signal) float64 {
	if len(signals) == 0 {
		return 0.0
	}

	var sum float64
	layers := make(map[signal.Layer]struct{}, len(signals))
	for _, s := range signals {
		sum += baseStrength[s.Potential]
		layers[s.Layer] = struct{}{}
	}

	avg := sum / float64(len(signals))
	layerMultiplier := 1.0 + float64(len(layers)-1)*0.3

	n := float64(len(signals))
	combined := (1.0 - math.Pow(1.0-avg, n)) * layerMultiplier

	return math.Min(combined, 1.0)
}

// Assess converts a correlation score to an attribution confidence level.
// Band boundaries are inclusive on the higher band.
func Assess(score float64) Confidence {
	switch {
	case score >= 0.9:
		return ConfidenceCritical
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AssessRisk derives the operational risk level from attribution confidence
// and group size. Count-based escalation overrides a lower confidence band:
// four correlated signals are critical regardless of how weakly each scores.
func AssessRisk(confidence Confidence, count int) RiskLevel {
	switch {
	case confidence == ConfidenceCritical || count >= 4:
		return RiskCritical
	case confidence == ConfidenceHigh || count >= 3:
		return RiskHigh
	case confidence == ConfidenceMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

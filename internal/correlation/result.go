package correlation

import (
	"opsec-attrib/internal/signal"
)

// Type names the correlation pass (or pattern rule) that produced a result.
type Type string

const (
	TypeTemporal       Type = "TEMPORAL"
	TypeDNSNetwork     Type = "DNS_NETWORK_CORRELATION"
	TypeTimezoneTiming Type = "TIMEZONE_TIMING_CORRELATION"
	TypeMultiLayer     Type = "MULTI_LAYER_CONVERGENCE"
)

// Result is one correlated group of signals with its derived assessments.
// Results are produced fresh on every correlation run; they are never
// merged across runs.
type Result struct {
	Signals     []signal.Signal
	Score       float64
	Confidence  Confidence
	Type        Type
	Explanation string
	RiskLevel   RiskLevel
}

// newResult scores a signal group and assembles a result.
func newResult(typ Type, signals []signal.Signal, explanation string) Result {
	score := Score(signals)
	confidence := Assess(score)
	return Result{
		Signals:     signals,
		Score:       score,
		Confidence:  confidence,
		Type:        typ,
		Explanation: explanation,
		RiskLevel:   AssessRisk(confidence, len(signals)),
	}
}

// ResultObject is the exported representation of a correlation result.
type ResultObject struct {
	SignalCount           int             `json:"signal_count"`
	SignalLayers          []string        `json:"signal_layers"`
	CorrelationScore      float64         `json:"correlation_score"`
	AttributionConfidence string          `json:"attribution_confidence"`
	CorrelationType       string          `json:"correlation_type"`
	Explanation           string          `json:"explanation"`
	RiskLevel             string          `json:"risk_level"`
	Signals               []signal.Object `json:"signals"`
}

// Object returns the exported representation of the result.
func (r *Result) Object() ResultObject {
	layers := make([]string, len(r.Signals))
	objects := make([]signal.Object, len(r.Signals))
	for i := range r.Signals {
		layers[i] = string(r.Signals[i].Layer)
		objects[i] = r.Signals[i].Object()
	}
	return ResultObject{
		SignalCount:           len(r.Signals),
		SignalLayers:          layers,
		CorrelationScore:      r.Score,
		AttributionConfidence: string(r.Confidence),
		CorrelationType:       string(r.Type),
		Explanation:           r.Explanation,
		RiskLevel:             string(r.RiskLevel),
		Signals:               objects,
	}
}

// distinctLayers returns the distinct layers of a signal group in
// first-seen order.
func distinctLayers(signals []signal.Signal) []signal.Layer {
	seen := make(map[signal.Layer]struct{}, len(signals))
	var out []signal.Layer
	for _, s := range signals {
		if _, ok := seen[s.Layer]; ok {
			continue
		}
		seen[s.Layer] = struct{}{}
		out = append(out, s.Layer)
	}
	return out
}

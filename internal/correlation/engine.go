package correlation

import (
	"fmt"
	"log/slog"
	"time"

	"opsec-attrib/internal/signal"
)

// RepresentativePick selects how the convergence pass chooses one signal
// per layer.
type RepresentativePick string

const (
	// PickWeakest selects the signal with the weakest correlation
	// potential per layer. This reproduces the historical behavior; the
	// surrounding intent suggests the strongest signal was meant, so both
	// modes exist until the semantics are settled.
	PickWeakest RepresentativePick = "weakest"
	// PickStrongest selects the signal with the strongest correlation
	// potential per layer.
	PickStrongest RepresentativePick = "strongest"
)

// strengthOrder ranks correlation potentials from weakest to strongest.
var strengthOrder = []signal.Strength{
	signal.StrengthWeak,
	signal.StrengthMulti,
	signal.StrengthPair,
	signal.StrengthSolo,
}

func strengthRank(s signal.Strength) int {
	for i, v := range strengthOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// EngineConfig configures the correlation engine.
type EngineConfig struct {
	// TemporalWindow is the bucket width for the temporal pass.
	TemporalWindow time.Duration `yaml:"temporal_window"`

	// RepresentativePick selects the per-layer representative in the
	// convergence pass.
	RepresentativePick RepresentativePick `yaml:"representative_pick"`

	// PatternRules is the cross-layer rule registry. Nil means the
	// builtin rules.
	PatternRules []PatternRule `yaml:"pattern_rules"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TemporalWindow:     5 * time.Minute,
		RepresentativePick: PickWeakest,
	}
}

// Engine accumulates signals and correlates them across layers.
//
// The engine owns two ordered sequences: accumulated signals (append-only
// until Clear) and the correlations of the most recent CorrelateAll run
// (replaced wholesale each run). It is not internally synchronized; callers
// with concurrent producers must serialize AddSignals, Clear, and
// CorrelateAll externally.
type Engine struct {
	config       EngineConfig
	rules        []PatternRule
	signals      []signal.Signal
	correlations []Result
	logger       *slog.Logger
}

// NewEngine creates an empty correlation engine.
func NewEngine(config EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TemporalWindow <= 0 {
		config.TemporalWindow = DefaultEngineConfig().TemporalWindow
	}
	if config.RepresentativePick == "" {
		config.RepresentativePick = PickWeakest
	}
	rules := config.PatternRules
	if rules == nil {
		rules = BuiltinPatternRules()
	}
	return &Engine{
		config: config,
		rules:  rules,
		logger: logger,
	}
}

// AddSignals appends a batch of producer-supplied signals, preserving
// insertion order. No deduplication or validation is performed here;
// producers validate at construction.
func (e *Engine) AddSignals(batch []signal.Signal) {
	e.signals = append(e.signals, batch...)
}

// Clear resets accumulated signals and stored correlations.
func (e *Engine) Clear() {
	e.signals = nil
	e.correlations = nil
}

// Signals returns the accumulated signal sequence.
func (e *Engine) Signals() []signal.Signal {
	return e.signals
}

// Correlations returns the results of the most recent CorrelateAll run.
func (e *Engine) Correlations() []Result {
	return e.correlations
}

// CorrelateAll discards prior results and runs the three correlation passes
// in fixed order: temporal, cross-layer pattern, multi-signal convergence.
// Re-running on an identical signal sequence yields an identical result
// sequence. An empty result is the normal "nothing found" outcome.
func (e *Engine) CorrelateAll() []Result {
	e.correlations = nil

	e.correlations = append(e.correlations, e.correlateTemporal()...)
	e.correlations = append(e.correlations, e.correlateCrossLayer()...)
	e.correlations = append(e.correlations, e.correlateConvergence()...)

	e.logger.Debug("correlation run complete",
		"signals", len(e.signals),
		"correlations", len(e.correlations),
	)

	return e.correlations
}

// correlateTemporal buckets signals by floor(epoch/window) and emits a
// result for every bucket holding at least two signals from at least two
// distinct layers. Two nearby signals can straddle a bucket boundary and
// not correlate; that is the intended floor-bucket semantics.
func (e *Engine) correlateTemporal() []Result {
	windowSec := int64(e.config.TemporalWindow / time.Second)

	buckets := make(map[int64][]signal.Signal)
	var order []int64
	for _, s := range e.signals {
		key := s.Timestamp.Unix() / windowSec
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], s)
	}

	var results []Result
	for _, key := range order {
		group := buckets[key]
		if len(group) < 2 {
			continue
		}
		layers := distinctLayers(group)
		if len(layers) < 2 {
			continue
		}

		explanation := fmt.Sprintf("%d signals from %d layers occurred within %ds window",
			len(group), len(layers), windowSec)
		results = append(results, newResult(TypeTemporal, group, explanation))
	}

	return results
}

// correlateCrossLayer evaluates every enabled pattern rule against the
// accumulated signals. A rule fires at most once per run, combining all
// signals matching either of its predicates, and only when both predicates
// match at least one signal.
func (e *Engine) correlateCrossLayer() []Result {
	var results []Result
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Enabled {
			continue
		}

		var matchedA, matchedB []signal.Signal
		for _, s := range e.signals {
			if rule.MatchA(&s) {
				matchedA = append(matchedA, s)
			}
		}
		for _, s := range e.signals {
			if rule.MatchB(&s) {
				matchedB = append(matchedB, s)
			}
		}

		if len(matchedA) == 0 || len(matchedB) == 0 {
			continue
		}

		combined := make([]signal.Signal, 0, len(matchedA)+len(matchedB))
		combined = append(combined, matchedA...)
		combined = append(combined, matchedB...)
		results = append(results, newResult(rule.Type, combined, rule.Explanation))
	}
	return results
}

// correlateConvergence emits a single result when signals span three or
// more distinct layers, selecting one representative per layer by the
// configured pick order. Ties keep the first-encountered signal.
func (e *Engine) correlateConvergence() []Result {
	groups := make(map[signal.Layer][]signal.Signal)
	var order []signal.Layer
	for _, s := range e.signals {
		if _, ok := groups[s.Layer]; !ok {
			order = append(order, s.Layer)
		}
		groups[s.Layer] = append(groups[s.Layer], s)
	}

	if len(groups) < 3 {
		return nil
	}

	representatives := make([]signal.Signal, 0, len(order))
	for _, layer := range order {
		representatives = append(representatives, pickRepresentative(groups[layer], e.config.RepresentativePick))
	}

	explanation := fmt.Sprintf("Signals from %d different layers converge for high-confidence attribution",
		len(representatives))
	return []Result{newResult(TypeMultiLayer, representatives, explanation)}
}

func pickRepresentative(group []signal.Signal, pick RepresentativePick) signal.Signal {
	best := group[0]
	for _, s := range group[1:] {
		rank, bestRank := strengthRank(s.Potential), strengthRank(best.Potential)
		if pick == PickStrongest {
			if rank > bestRank {
				best = s
			}
		} else {
			if rank < bestRank {
				best = s
			}
		}
	}
	return best
}

// Critical returns stored correlations with CRITICAL attribution confidence.
func (e *Engine) Critical() []Result {
	var out []Result
	for _, c := range e.correlations {
		if c.Confidence == ConfidenceCritical {
			out = append(out, c)
		}
	}
	return out
}

// HighRisk returns stored correlations with HIGH or CRITICAL attribution
// confidence.
func (e *Engine) HighRisk() []Result {
	var out []Result
	for _, c := range e.correlations {
		if c.Confidence == ConfidenceHigh || c.Confidence == ConfidenceCritical {
			out = append(out, c)
		}
	}
	return out
}

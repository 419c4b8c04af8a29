package correlation

import (
	"fmt"
)

// Recommendation is an actionable mitigation derived from a high-risk
// correlation.
type Recommendation struct {
	Priority       string   `json:"priority"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation"`
	Layers         []string `json:"layers"`
}

// mitigationTemplate maps a correlation type to its remediation guidance.
// Temporal correlations have no template; clustering in time is context,
// not a configuration defect with a known fix.
type mitigationTemplate struct {
	priority       string
	issue          string
	recommendation string
	layers         []string
}

var mitigationTemplates = map[Type]mitigationTemplate{
	TypeDNSNetwork: {
		priority:       "CRITICAL",
		issue:          "DNS resolver and network AS mismatch",
		recommendation: "Use DNS resolver in same AS as VPN exit, or deploy private recursive resolver",
		layers:         []string{"DNS", "NETWORK"},
	},
	TypeTimezoneTiming: {
		priority:       "HIGH",
		issue:          "Timezone and activity timing correlation",
		recommendation: "Automate operations with randomized timing, or operate across multiple timezones",
		layers:         []string{"USERLAND", "METADATA"},
	},
}

// Mitigations derives deduplicated recommendations from the stored
// high-risk correlations. Two correlations yielding the same (priority,
// issue) pair produce one recommendation; the first occurrence wins.
// The set is rebuilt from scratch on every call, so output never accretes
// across correlation runs.
func (e *Engine) Mitigations() []Recommendation {
	type key struct {
		priority string
		issue    string
	}
	seen := make(map[key]struct{})

	recommendations := make([]Recommendation, 0)
	for _, c := range e.HighRisk() {
		rec, ok := recommendationFor(&c)
		if !ok {
			continue
		}
		k := key{priority: rec.Priority, issue: rec.Issue}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		recommendations = append(recommendations, rec)
	}
	return recommendations
}

// recommendationFor builds the recommendation for one high-risk
// correlation. Correlation types without a template yield none.
func recommendationFor(c *Result) (Recommendation, bool) {
	if c.Type == TypeMultiLayer {
		layers := make([]string, 0)
		for _, l := range distinctLayers(c.Signals) {
			layers = append(layers, string(l))
		}
		return Recommendation{
			Priority:       "CRITICAL",
			Issue:          fmt.Sprintf("Signals from %d layers correlate", len(c.Signals)),
			Recommendation: "Break correlation chains by isolating operational layers and adding noise/diversity",
			Layers:         layers,
		}, true
	}

	tmpl, ok := mitigationTemplates[c.Type]
	if !ok {
		return Recommendation{}, false
	}
	return Recommendation{
		Priority:       tmpl.priority,
		Issue:          tmpl.issue,
		Recommendation: tmpl.recommendation,
		Layers:         tmpl.layers,
	}, true
}

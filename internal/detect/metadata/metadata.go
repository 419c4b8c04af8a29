// Package metadata produces metadata-layer attribution signals from
// operational telemetry: activity timing, cadence, behavioral fingerprints,
// and cloud audit trails.
package metadata

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"opsec-attrib/internal/signal"
)

// Source identifies batches produced by this package.
const Source = "metadata-detector"

// Event is a timestamped operational event.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"event_type,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ActivityAnalyzer flags activity timing patterns: concentrated time
// windows, estimated timezone, and weekday-only operation.
type ActivityAnalyzer struct{}

// NewActivityAnalyzer creates an activity timing analyzer.
func NewActivityAnalyzer() *ActivityAnalyzer {
	return &ActivityAnalyzer{}
}

// minActivityEvents is the smallest event set worth analyzing.
const minActivityEvents = 5

// Analyze inspects event timestamps for schedule correlation.
func (a *ActivityAnalyzer) Analyze(events []Event, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if len(events) < minActivityEvents {
		return signals
	}

	hourCounts := make(map[int]int)
	for _, e := range events {
		hourCounts[e.Timestamp.UTC().Hour()]++
	}

	// Top 8 hours by count. Ties break toward the earlier hour so the
	// result is deterministic.
	type hourCount struct {
		hour  int
		count int
	}
	ranked := make([]hourCount, 0, len(hourCounts))
	for h, c := range hourCounts {
		ranked = append(ranked, hourCount{h, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].hour < ranked[j].hour
	})

	if len(ranked) >= 8 {
		top := ranked[:8]
		minHour, maxHour := top[0].hour, top[0].hour
		for _, hc := range top[1:] {
			if hc.hour < minHour {
				minHour = hc.hour
			}
			if hc.hour > maxHour {
				maxHour = hc.hour
			}
		}

		if maxHour-minHour <= 10 {
			distribution := make(map[string]any, len(hourCounts))
			for h, c := range hourCounts {
				distribution[fmt.Sprintf("%d", h)] = c
			}

			signals = append(signals, signal.Signal{
				ID:            "activity_time_window",
				Layer:         signal.LayerMetadata,
				Description:   "Activity concentrated in specific time window",
				Value:         fmt.Sprintf("%02d:00-%02d:00 UTC", minHour, maxHour),
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityTrivial,
				Metadata: map[string]any{
					"start_hour":        minHour,
					"end_hour":          maxHour,
					"hour_distribution": distribution,
					"risk":              "Activity window correlates to human timezone/schedule",
				},
			})

			// Assume the window starts at 09:00 local working time.
			estimatedOffset := minHour - 9
			signals = append(signals, signal.Signal{
				ID:            "estimated_timezone",
				Layer:         signal.LayerMetadata,
				Description:   "Estimated operator timezone",
				Value:         fmt.Sprintf("UTC%+.1f", float64(estimatedOffset)),
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityModerate,
				Metadata: map[string]any{
					"estimated_offset_hours": estimatedOffset,
					"confidence":             "MEDIUM",
					"risk":                   "Timezone estimation enables geographic attribution",
				},
			})
		}
	}

	weekendEvents := 0
	for _, e := range events {
		switch e.Timestamp.UTC().Weekday() {
		case time.Saturday, time.Sunday:
			weekendEvents++
		}
	}

	if weekendEvents == 0 && len(events) > 10 {
		signals = append(signals, signal.Signal{
			ID:            "no_weekend_activity",
			Layer:         signal.LayerMetadata,
			Description:   "No weekend activity detected",
			Value:         fmt.Sprintf("%d events, all weekdays", len(events)),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"total_events":   len(events),
				"weekend_events": weekendEvents,
				"risk":           "Weekday-only pattern suggests manual operation (not automated)",
			},
		})
	}

	return signals
}

// CadenceAnalyzer flags predictable operational cadence and preferred
// update weekdays.
type CadenceAnalyzer struct{}

// NewCadenceAnalyzer creates a cadence analyzer.
func NewCadenceAnalyzer() *CadenceAnalyzer {
	return &CadenceAnalyzer{}
}

// Analyze inspects operational event intervals.
func (a *CadenceAnalyzer) Analyze(events []Event, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if len(events) < 3 {
		return signals
	}

	timestamps := make([]time.Time, len(events))
	for i, e := range events {
		timestamps[i] = e.Timestamp.UTC()
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Hours())
	}

	mean := meanOf(intervals)
	std := stddevOf(intervals, mean)

	if mean > 0 {
		cv := std / mean
		if cv < 0.3 {
			signals = append(signals, signal.Signal{
				ID:            "predictable_cadence",
				Layer:         signal.LayerMetadata,
				Description:   "Predictable operational cadence detected",
				Value:         fmt.Sprintf("Every %.1fh +/- %.1fh", mean, std),
				Timestamp:     now,
				Potential:     signal.StrengthMulti,
				Detectability: signal.DetectabilityModerate,
				Metadata: map[string]any{
					"avg_interval_hours":       mean,
					"std_dev_hours":            std,
					"coefficient_of_variation": cv,
					"risk":                     "Predictable cadence enables temporal correlation across operations",
				},
			})
		}
	}

	dayCounts := make(map[time.Weekday]int)
	for _, t := range timestamps {
		dayCounts[t.Weekday()]++
	}

	var preferred time.Weekday
	best := 0
	for day := time.Sunday; day <= time.Saturday; day++ {
		if dayCounts[day] > best {
			best = dayCounts[day]
			preferred = day
		}
	}

	if float64(best) >= float64(len(timestamps))*0.5 {
		signals = append(signals, signal.Signal{
			ID:            "preferred_update_day",
			Layer:         signal.LayerMetadata,
			Description:   "Updates concentrated on specific weekday",
			Value:         preferred.String(),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"preferred_day":   preferred.String(),
				"occurrence_rate": float64(best) / float64(len(timestamps)),
				"risk":            "Consistent update timing fingerprints operational procedures",
			},
		})
	}

	return signals
}

// Behavior aggregates behavioral telemetry across operations.
type Behavior struct {
	SessionDurations  []float64      `json:"session_durations,omitempty"`  // seconds
	ResponseLatencies []float64      `json:"response_latencies,omitempty"` // seconds
	OperationalTempo  map[string]any `json:"operational_tempo,omitempty"`
}

// BehaviorAnalyzer flags behavioral fingerprints: work-shift sessions,
// automation level, and operational tempo.
type BehaviorAnalyzer struct{}

// NewBehaviorAnalyzer creates a behavior analyzer.
func NewBehaviorAnalyzer() *BehaviorAnalyzer {
	return &BehaviorAnalyzer{}
}

// Analyze inspects behavioral telemetry.
func (a *BehaviorAnalyzer) Analyze(b Behavior, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if len(b.SessionDurations) >= 5 {
		hours := make([]float64, len(b.SessionDurations))
		for i, d := range b.SessionDurations {
			hours[i] = d / 3600
		}
		mean := meanOf(hours)
		std := stddevOf(hours, mean)

		// Sessions clustering around 8 hours are a human work shift.
		if mean >= 6 && mean <= 10 && std < 2 {
			signals = append(signals, signal.Signal{
				ID:            "work_shift_pattern",
				Layer:         signal.LayerMetadata,
				Description:   "Session durations match work shift pattern",
				Value:         fmt.Sprintf("%.1fh average", mean),
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityModerate,
				Metadata: map[string]any{
					"avg_duration_hours": mean,
					"std_dev_hours":      std,
					"risk":               "Human work shift patterns enable behavioral attribution",
				},
			})
		}
	}

	if len(b.ResponseLatencies) >= 5 {
		mean := meanOf(b.ResponseLatencies)

		level := "LOW"
		switch {
		case mean < 30:
			level = "HIGH"
		case mean < 300:
			level = "MEDIUM"
		}

		signals = append(signals, signal.Signal{
			ID:            "automation_level",
			Layer:         signal.LayerMetadata,
			Description:   "Estimated automation level",
			Value:         level,
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"avg_response_latency_sec": mean,
				"automation_level":         level,
				"risk":                     "Automation level reveals operational maturity and resources",
			},
		})
	}

	if len(b.OperationalTempo) > 0 {
		meta := map[string]any{
			"risk": "Operational tempo consistent across campaigns enables linking",
		}
		for k, v := range b.OperationalTempo {
			meta[k] = v
		}

		signals = append(signals, signal.Signal{
			ID:            "operational_tempo",
			Layer:         signal.LayerMetadata,
			Description:   "Operational tempo fingerprint",
			Value:         fmt.Sprintf("%v", b.OperationalTempo),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata:      meta,
		})
	}

	return signals
}

// IMDSSnapshot is a view of an instance metadata service response.
type IMDSSnapshot struct {
	IAMExposed       bool   `json:"iam_exposed"`
	Version          string `json:"imds_version,omitempty"`
	InstanceID       string `json:"instance_id,omitempty"`
	AMIID            string `json:"ami_id,omitempty"`
	AvailabilityZone string `json:"availability_zone,omitempty"`
	PublicIP         string `json:"public_ip,omitempty"`
}

// CloudTrailEvent holds the attribution-relevant fields of one audit record.
type CloudTrailEvent struct {
	PrincipalID string    `json:"principal_id,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	SourceIP    string    `json:"source_ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	EventTime   time.Time `json:"event_time,omitempty"`
}

// CloudAuditAnalyzer flags cloud audit trail attribution vectors: IMDS
// exposure and CloudTrail identity records.
type CloudAuditAnalyzer struct{}

// NewCloudAuditAnalyzer creates a cloud audit analyzer.
func NewCloudAuditAnalyzer() *CloudAuditAnalyzer {
	return &CloudAuditAnalyzer{}
}

// AnalyzeIMDS inspects an instance metadata snapshot.
func (a *CloudAuditAnalyzer) AnalyzeIMDS(imds IMDSSnapshot, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if imds.IAMExposed {
		signals = append(signals, signal.Signal{
			ID:            "imds_iam_exposed",
			Layer:         signal.LayerMetadata,
			Description:   "IAM credentials exposed via instance metadata service",
			Value:         imds.InstanceID,
			Timestamp:     now,
			Potential:     signal.StrengthSolo,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"instance_id":       imds.InstanceID,
				"ami_id":            imds.AMIID,
				"availability_zone": imds.AvailabilityZone,
				"public_ip":         imds.PublicIP,
				"risk":              "CRITICAL - Instance identity and credentials attributable",
				"mitigation":        "Enforce IMDSv2, minimize IAM role permissions",
			},
		})
	}

	if imds.Version == "v1" {
		signals = append(signals, signal.Signal{
			ID:            "imdsv1_enabled",
			Layer:         signal.LayerMetadata,
			Description:   "IMDSv1 enabled (SSRF vulnerable)",
			Value:         "v1",
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"instance_id": imds.InstanceID,
				"risk":        "IMDSv1 allows metadata theft via SSRF",
				"mitigation":  "Enforce IMDSv2, minimize IAM role permissions",
			},
		})
	}

	return signals
}

var awsCLIPattern = regexp.MustCompile(`aws-cli/([0-9.]+)\s+Python/([0-9.]+)\s+(\w+)`)

// AnalyzeCloudTrail inspects a CloudTrail event. The audit record carries
// identity, source IP, and tool fingerprint together, so it attributes
// alone.
func (a *CloudAuditAnalyzer) AnalyzeCloudTrail(event CloudTrailEvent, now time.Time) []signal.Signal {
	if event.PrincipalID == "" && event.UserName == "" && event.SourceIP == "" {
		return nil
	}

	ts := event.EventTime
	if ts.IsZero() {
		ts = now
	}

	meta := map[string]any{
		"principal_id": event.PrincipalID,
		"user_name":    event.UserName,
		"account_id":   event.AccountID,
		"source_ip":    event.SourceIP,
		"user_agent":   event.UserAgent,
		"risk":         "CloudTrail provides full audit trail with identity, IP, tool",
	}

	if m := awsCLIPattern.FindStringSubmatch(event.UserAgent); m != nil {
		meta["cli_version"] = m[1]
		meta["python_version"] = m[2]
		meta["os"] = m[3]
	}

	return []signal.Signal{{
		ID:            "cloudtrail_identity",
		Layer:         signal.LayerMetadata,
		Description:   "Cloud audit trail records operator identity",
		Value:         event.PrincipalID,
		Timestamp:     ts,
		Potential:     signal.StrengthSolo,
		Detectability: signal.DetectabilityTrivial,
		Metadata:      meta,
	}}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

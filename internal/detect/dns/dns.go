// Package dns produces DNS-layer attribution signals: resolver exposure,
// sinkhole hits, query timing patterns, and passive DNS reconstruction risk.
package dns

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"opsec-attrib/internal/signal"
)

// Source identifies batches produced by this package.
const Source = "dns-detector"

// ResolverInfo describes a known public DNS resolver.
type ResolverInfo struct {
	Name string
	AS   string
	Geo  string
}

// publicResolvers maps well-known public resolver addresses to their
// operator and origin AS.
var publicResolvers = map[string]ResolverInfo{
	"8.8.8.8":        {Name: "Google Public DNS", AS: "AS15169", Geo: "Global"},
	"8.8.4.4":        {Name: "Google Public DNS", AS: "AS15169", Geo: "Global"},
	"1.1.1.1":        {Name: "Cloudflare DNS", AS: "AS13335", Geo: "Global"},
	"1.0.0.1":        {Name: "Cloudflare DNS", AS: "AS13335", Geo: "Global"},
	"9.9.9.9":        {Name: "Quad9", AS: "AS19281", Geo: "Global"},
	"208.67.222.222": {Name: "OpenDNS", AS: "AS36692", Geo: "USA"},
	"208.67.220.220": {Name: "OpenDNS", AS: "AS36692", Geo: "USA"},
}

// LookupResolver returns info for a known public resolver address.
func LookupResolver(addr string) (ResolverInfo, bool) {
	info, ok := publicResolvers[addr]
	return info, ok
}

// ResolverConfig is a snapshot of the system resolver configuration.
type ResolverConfig struct {
	Resolvers  []string `json:"resolvers" yaml:"resolvers"`
	VPNAS      string   `json:"vpn_as,omitempty" yaml:"vpn_as,omitempty"`
	DoHEnabled bool     `json:"doh_enabled" yaml:"doh_enabled"`
}

// ResolverAnalyzer flags public resolver usage and resolver/VPN AS mismatch.
type ResolverAnalyzer struct{}

// NewResolverAnalyzer creates a resolver analyzer.
func NewResolverAnalyzer() *ResolverAnalyzer {
	return &ResolverAnalyzer{}
}

// Analyze inspects a resolver configuration and returns attribution signals.
func (a *ResolverAnalyzer) Analyze(cfg ResolverConfig, now time.Time) []signal.Signal {
	var signals []signal.Signal

	for _, resolver := range cfg.Resolvers {
		info, ok := publicResolvers[resolver]
		if !ok {
			continue
		}

		signals = append(signals, signal.Signal{
			ID:            "public_resolver_" + strings.ReplaceAll(resolver, ".", "_"),
			Layer:         signal.LayerDNS,
			Description:   "Using public DNS resolver: " + info.Name,
			Value:         resolver,
			Timestamp:     now,
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"resolver": resolver,
				"name":     info.Name,
				"as":       info.AS,
				"risk":     "Queries logged, potential correlation with other layers",
			},
		})

		if cfg.VPNAS != "" && info.AS != cfg.VPNAS {
			signals = append(signals, signal.Signal{
				ID:            "dns_vpn_as_mismatch",
				Layer:         signal.LayerDNS,
				Description:   "DNS resolver AS differs from VPN AS",
				Value:         fmt.Sprintf("DNS:%s, VPN:%s", info.AS, cfg.VPNAS),
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityTrivial,
				Metadata: map[string]any{
					"dns_as": info.AS,
					"vpn_as": cfg.VPNAS,
					"risk":   "HIGH - AS mismatch enables infrastructure correlation",
				},
			})
		}
	}

	if len(cfg.Resolvers) > 0 && !cfg.DoHEnabled {
		signals = append(signals, signal.Signal{
			ID:            "doh_disabled",
			Layer:         signal.LayerDNS,
			Description:   "DNS over HTTPS (DoH) not enabled",
			Value:         "disabled",
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"risk": "DNS queries visible to network observers",
			},
		})
	}

	return signals
}

// Query is a single observed DNS query.
type Query struct {
	Domain    string    `json:"domain"`
	Timestamp time.Time `json:"timestamp"`
	QueryType string    `json:"query_type,omitempty"`
	SourceIP  string    `json:"source_ip,omitempty"`
}

// SinkholeDetector matches queries against a list of sinkholed domains.
type SinkholeDetector struct {
	domains map[string]struct{}
}

// NewSinkholeDetector creates an empty sinkhole detector.
func NewSinkholeDetector() *SinkholeDetector {
	return &SinkholeDetector{domains: make(map[string]struct{})}
}

// Add registers a sinkholed domain.
func (d *SinkholeDetector) Add(domain string) {
	d.domains[strings.ToLower(domain)] = struct{}{}
}

// LoadList loads sinkholed domains from a file, one per line. Blank lines
// and lines starting with # are skipped.
func (d *SinkholeDetector) LoadList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dns: failed to open sinkhole list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		domain := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if domain == "" || strings.HasPrefix(domain, "#") {
			continue
		}
		d.domains[domain] = struct{}{}
	}
	return scanner.Err()
}

// Len returns the number of loaded sinkhole domains.
func (d *SinkholeDetector) Len() int {
	return len(d.domains)
}

// Analyze flags queries to sinkholed domains. Each hit is a SOLO signal;
// infrastructure already tagged by threat intelligence attributes alone.
func (d *SinkholeDetector) Analyze(queries []Query, now time.Time) []signal.Signal {
	var signals []signal.Signal

	for _, q := range queries {
		domain := strings.ToLower(q.Domain)
		if _, ok := d.domains[domain]; !ok {
			continue
		}

		ts := q.Timestamp
		if ts.IsZero() {
			ts = now
		}

		sum := md5.Sum([]byte(domain))
		signals = append(signals, signal.Signal{
			ID:            "sinkhole_hit_" + hex.EncodeToString(sum[:])[:8],
			Layer:         signal.LayerDNS,
			Description:   "Query to sinkholed domain detected",
			Value:         domain,
			Timestamp:     ts,
			Potential:     signal.StrengthSolo,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"domain":     domain,
				"source_ip":  q.SourceIP,
				"risk":       "CRITICAL - Infrastructure tagged by threat intelligence",
				"mitigation": "Review query source, check for compromised systems",
			},
		})
	}

	return signals
}

// QueryPatternAnalyzer flags timing and ordering patterns in query streams.
type QueryPatternAnalyzer struct{}

// NewQueryPatternAnalyzer creates a query pattern analyzer.
func NewQueryPatternAnalyzer() *QueryPatternAnalyzer {
	return &QueryPatternAnalyzer{}
}

// Analyze inspects query ordering and inter-query timing.
func (a *QueryPatternAnalyzer) Analyze(queries []Query, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if len(queries) < 2 {
		return signals
	}

	// A run of unique leading domains suggests a stable application startup
	// sequence.
	n := len(queries)
	if n > 5 {
		n = 5
	}
	sequence := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	unique := true
	for _, q := range queries[:n] {
		if _, dup := seen[q.Domain]; dup {
			unique = false
			break
		}
		seen[q.Domain] = struct{}{}
		sequence = append(sequence, q.Domain)
	}

	if unique {
		signals = append(signals, signal.Signal{
			ID:            "dns_query_ordering",
			Layer:         signal.LayerDNS,
			Description:   "Consistent DNS query ordering detected",
			Value:         strings.Join(sequence, ","),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"sequence": sequence,
				"risk":     "Query ordering can fingerprint application behavior",
			},
		})
	}

	intervals := make([]float64, 0, len(queries)-1)
	for i := 1; i < len(queries); i++ {
		intervals = append(intervals, queries[i].Timestamp.Sub(queries[i-1].Timestamp).Seconds())
	}

	if len(intervals) > 5 {
		var total float64
		for _, iv := range intervals {
			total += iv
		}
		avg := total / float64(len(intervals))

		if avg < 1.0 {
			signals = append(signals, signal.Signal{
				ID:            "dns_rapid_queries",
				Layer:         signal.LayerDNS,
				Description:   "Rapid DNS queries detected (< 1s average interval)",
				Value:         fmt.Sprintf("%.3fs average", avg),
				Timestamp:     now,
				Potential:     signal.StrengthMulti,
				Detectability: signal.DetectabilityModerate,
				Metadata: map[string]any{
					"avg_interval_sec": avg,
					"query_count":      len(queries),
					"risk":             "Timing patterns enable flow correlation",
				},
			})
		}
	}

	return signals
}

// DomainRecord is a passive DNS view of one domain.
type DomainRecord struct {
	Domain    string    `json:"domain"`
	IPs       []string  `json:"ips"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PassiveDNSAnalyzer flags infrastructure clustering visible through
// passive DNS: shared IPs and registration-time proximity.
type PassiveDNSAnalyzer struct{}

// NewPassiveDNSAnalyzer creates a passive DNS analyzer.
func NewPassiveDNSAnalyzer() *PassiveDNSAnalyzer {
	return &PassiveDNSAnalyzer{}
}

// Analyze inspects a set of domain records for clustering risk.
func (a *PassiveDNSAnalyzer) Analyze(domains []DomainRecord, now time.Time) []signal.Signal {
	var signals []signal.Signal

	// Multiple domains on one IP cluster the infrastructure.
	ipOrder := make([]string, 0)
	ipDomains := make(map[string][]string)
	for _, rec := range domains {
		for _, ip := range rec.IPs {
			if _, ok := ipDomains[ip]; !ok {
				ipOrder = append(ipOrder, ip)
			}
			ipDomains[ip] = append(ipDomains[ip], rec.Domain)
		}
	}

	for _, ip := range ipOrder {
		list := ipDomains[ip]
		if len(list) < 2 {
			continue
		}
		signals = append(signals, signal.Signal{
			ID:            "ip_colocation_" + strings.ReplaceAll(ip, ".", "_"),
			Layer:         signal.LayerDNS,
			Description:   "Multiple domains share IP " + ip,
			Value:         fmt.Sprintf("%d domains", len(list)),
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityModerate,
			Metadata: map[string]any{
				"ip":      ip,
				"domains": list,
				"risk":    "Passive DNS enables infrastructure clustering via shared IPs",
			},
		})
	}

	// Domains first seen close together suggest campaign setup.
	var firstSeens []time.Time
	for _, rec := range domains {
		if !rec.FirstSeen.IsZero() {
			firstSeens = append(firstSeens, rec.FirstSeen)
		}
	}

	if len(firstSeens) > 1 {
		earliest, latest := firstSeens[0], firstSeens[0]
		for _, t := range firstSeens[1:] {
			if t.Before(earliest) {
				earliest = t
			}
			if t.After(latest) {
				latest = t
			}
		}
		spread := latest.Sub(earliest)

		if spread < 7*24*time.Hour {
			days := int(spread.Hours() / 24)
			signals = append(signals, signal.Signal{
				ID:            "temporal_clustering",
				Layer:         signal.LayerDNS,
				Description:   "Domains first seen within 7-day window",
				Value:         fmt.Sprintf("%d domains in %d days", len(firstSeens), days),
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityModerate,
				Metadata: map[string]any{
					"domain_count":     len(firstSeens),
					"time_spread_days": days,
					"risk":             "Temporal clustering suggests campaign setup",
				},
			})
		}
	}

	return signals
}

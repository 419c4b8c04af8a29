// Package userland produces userland-layer attribution signals: runtime
// environment leakage, binary fingerprints, and TLS client fingerprints.
package userland

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"opsec-attrib/internal/signal"
)

// Source identifies batches produced by this package.
const Source = "userland-detector"

// Environment is a snapshot of the runtime environment under analysis.
type Environment struct {
	TimezoneName   string            `json:"timezone_name"`
	TimezoneOffset float64           `json:"timezone_offset_hours"`
	OS             string            `json:"os"`
	Variables      map[string]string `json:"variables"`
}

// CaptureEnvironment snapshots the current process environment.
func CaptureEnvironment(now time.Time) Environment {
	name, offset := now.Zone()
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return Environment{
		TimezoneName:   name,
		TimezoneOffset: float64(offset) / 3600,
		OS:             runtime.GOOS + "/" + runtime.GOARCH,
		Variables:      vars,
	}
}

// localeVars are checked in order; the first present wins.
var localeVars = []string{"LANG", "LC_ALL", "LC_MESSAGES"}

// sensitiveVars leak identity or host information when exposed.
var sensitiveVars = []string{"USER", "USERNAME", "HOME", "USERPROFILE", "HOSTNAME", "COMPUTERNAME"}

// EnvironmentAnalyzer flags environment leakage: timezone, locale, OS
// fingerprint, and sensitive variables.
type EnvironmentAnalyzer struct{}

// NewEnvironmentAnalyzer creates an environment analyzer.
func NewEnvironmentAnalyzer() *EnvironmentAnalyzer {
	return &EnvironmentAnalyzer{}
}

// Analyze inspects an environment snapshot.
func (a *EnvironmentAnalyzer) Analyze(env Environment, now time.Time) []signal.Signal {
	var signals []signal.Signal

	if env.TimezoneName != "" {
		signals = append(signals, signal.Signal{
			ID:            "timezone",
			Layer:         signal.LayerUserland,
			Description:   "System timezone configuration",
			Value:         fmt.Sprintf("%s (UTC%+.1f)", env.TimezoneName, env.TimezoneOffset),
			Timestamp:     now,
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"offset_hours": env.TimezoneOffset,
				"name":         env.TimezoneName,
			},
		})
	}

	for _, name := range localeVars {
		if value, ok := env.Variables[name]; ok {
			signals = append(signals, signal.Signal{
				ID:            "locale",
				Layer:         signal.LayerUserland,
				Description:   "System locale configuration",
				Value:         value,
				Timestamp:     now,
				Potential:     signal.StrengthPair,
				Detectability: signal.DetectabilityTrivial,
				Metadata: map[string]any{
					"env_var": name,
					"value":   value,
				},
			})
			break
		}
	}

	if env.OS != "" {
		signals = append(signals, signal.Signal{
			ID:            "os_platform",
			Layer:         signal.LayerUserland,
			Description:   "Operating system fingerprint",
			Value:         env.OS,
			Timestamp:     now,
			Potential:     signal.StrengthMulti,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"platform": env.OS,
			},
		})
	}

	for _, name := range sensitiveVars {
		value, ok := env.Variables[name]
		if !ok {
			continue
		}
		signals = append(signals, signal.Signal{
			ID:            "env_" + strings.ToLower(name),
			Layer:         signal.LayerUserland,
			Description:   fmt.Sprintf("Environment variable '%s' detected", name),
			Value:         value,
			Timestamp:     now,
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"env_var": name,
				"value":   value,
			},
		})
	}

	return signals
}

// BinaryAnalyzer flags fingerprintable artifacts in binary files: entropy,
// header metadata, and embedded build paths.
type BinaryAnalyzer struct{}

// NewBinaryAnalyzer creates a binary analyzer.
func NewBinaryAnalyzer() *BinaryAnalyzer {
	return &BinaryAnalyzer{}
}

// maxPathLeakSignals caps build-path signals per file.
const maxPathLeakSignals = 10

// Analyze reads and inspects a binary file.
func (a *BinaryAnalyzer) Analyze(path string, now time.Time) ([]signal.Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("userland: failed to read binary: %w", err)
	}

	var signals []signal.Signal
	name := filepath.Base(path)

	if s := analyzeEntropy(data, name, path, now); s != nil {
		signals = append(signals, *s)
	}
	signals = append(signals, analyzeHeaders(data, name, path, now)...)
	signals = append(signals, analyzeStrings(data, path, now)...)

	return signals, nil
}

// analyzeEntropy computes Shannon entropy over the file bytes. Values above
// 7.0 bits per byte suggest packing or encryption.
func analyzeEntropy(data []byte, name, path string, now time.Time) *signal.Signal {
	if len(data) == 0 {
		return nil
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	var entropy float64
	total := float64(len(data))
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}

	if entropy <= 7.0 {
		return nil
	}

	return &signal.Signal{
		ID:            "entropy_" + name,
		Layer:         signal.LayerUserland,
		Description:   "High binary entropy detected (possible packing/obfuscation)",
		Value:         strconv.FormatFloat(math.Round(entropy*100)/100, 'f', -1, 64),
		Timestamp:     now,
		Potential:     signal.StrengthMulti,
		Detectability: signal.DetectabilityModerate,
		Metadata: map[string]any{
			"file":    path,
			"entropy": entropy,
		},
	}
}

func analyzeHeaders(data []byte, name, path string, now time.Time) []signal.Signal {
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return analyzePEHeader(data, name, path, now)
	}
	if len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return []signal.Signal{{
			ID:            "elf_detected_" + name,
			Layer:         signal.LayerUserland,
			Description:   "ELF binary detected",
			Value:         "ELF",
			Timestamp:     now,
			Potential:     signal.StrengthWeak,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"file":   path,
				"format": "ELF",
			},
		}}
	}
	return nil
}

// analyzePEHeader extracts the compilation timestamp from a PE header. The
// build time leaks the operator's working hours and weekday.
func analyzePEHeader(data []byte, name, path string, now time.Time) []signal.Signal {
	if len(data) < 0x40 {
		return nil
	}

	peOffset := binary.LittleEndian.Uint32(data[0x3c:0x40])
	if int(peOffset)+12 > len(data) {
		return nil
	}

	stamp := binary.LittleEndian.Uint32(data[peOffset+8 : peOffset+12])
	if stamp == 0 {
		return nil
	}

	compileTime := time.Unix(int64(stamp), 0).UTC()

	return []signal.Signal{{
		ID:            "pe_timestamp_" + name,
		Layer:         signal.LayerUserland,
		Description:   "PE compilation timestamp",
		Value:         compileTime.Format(time.RFC3339),
		Timestamp:     now,
		Potential:     signal.StrengthPair,
		Detectability: signal.DetectabilityTrivial,
		Metadata: map[string]any{
			"file":         path,
			"compile_time": compileTime.Format(time.RFC3339),
			"hour":         compileTime.Hour(),
			"weekday":      compileTime.Weekday().String(),
		},
	}}
}

// minStringLength is the shortest printable run treated as a string.
const minStringLength = 8

// analyzeStrings scans printable runs for embedded build paths. A home or
// profile directory in a shipped binary attributes alone.
func analyzeStrings(data []byte, path string, now time.Time) []signal.Signal {
	var signals []signal.Signal
	var current []byte

	flush := func() {
		defer func() { current = current[:0] }()
		if len(current) < minStringLength || len(signals) >= maxPathLeakSignals {
			return
		}
		value := string(current)
		if !strings.Contains(value, `\Users\`) && !strings.Contains(value, "/home/") {
			return
		}
		if len(value) > 100 {
			value = value[:100]
		}
		sum := md5.Sum([]byte(value))
		signals = append(signals, signal.Signal{
			ID:            "path_leak_" + hex.EncodeToString(sum[:])[:8],
			Layer:         signal.LayerUserland,
			Description:   "Build path leakage detected",
			Value:         value,
			Timestamp:     now,
			Potential:     signal.StrengthSolo,
			Detectability: signal.DetectabilityTrivial,
			Metadata: map[string]any{
				"file": path,
				"type": "path",
			},
		})
	}

	for _, b := range data {
		if b >= 32 && b <= 126 {
			current = append(current, b)
			continue
		}
		flush()
	}
	flush()

	return signals
}

// ClientHello holds the TLS handshake fields used for JA3 fingerprinting.
type ClientHello struct {
	CipherSuites        []uint16 `json:"cipher_suites"`
	Extensions          []uint16 `json:"extensions"`
	Curves              []uint16 `json:"curves"`
	SignatureAlgorithms []uint16 `json:"signature_algorithms"`
}

// TLSFingerprintAnalyzer derives a JA3-style fingerprint from a client hello.
type TLSFingerprintAnalyzer struct{}

// NewTLSFingerprintAnalyzer creates a TLS fingerprint analyzer.
func NewTLSFingerprintAnalyzer() *TLSFingerprintAnalyzer {
	return &TLSFingerprintAnalyzer{}
}

// Analyze fingerprints a TLS client hello.
func (a *TLSFingerprintAnalyzer) Analyze(hello ClientHello, now time.Time) []signal.Signal {
	if len(hello.CipherSuites) == 0 && len(hello.Extensions) == 0 &&
		len(hello.Curves) == 0 && len(hello.SignatureAlgorithms) == 0 {
		return nil
	}

	ja3 := ja3String(hello)
	sum := md5.Sum([]byte(ja3))
	hash := hex.EncodeToString(sum[:])

	return []signal.Signal{{
		ID:            "tls_fingerprint",
		Layer:         signal.LayerUserland,
		Description:   "TLS client fingerprint (JA3-style)",
		Value:         hash,
		Timestamp:     now,
		Potential:     signal.StrengthPair,
		Detectability: signal.DetectabilityTrivial,
		Metadata: map[string]any{
			"ja3_string": ja3,
			"ja3_hash":   hash,
		},
	}}
}

func ja3String(hello ClientHello) string {
	return strings.Join([]string{
		joinUint16(hello.CipherSuites),
		joinUint16(hello.Extensions),
		joinUint16(hello.Curves),
		joinUint16(hello.SignatureAlgorithms),
	}, ",")
}

func joinUint16(values []uint16) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}

// Package logging provides logging utilities for the attribution pipeline.
package logging

import (
	"regexp"
	"strings"
)

// SensitiveFields contains field names that should be masked in logs.
// Signal metadata frequently carries operator-identifying material (home
// paths, account names, credentials for probe infrastructure); anything
// matching these keys is masked before it reaches a log line.
var SensitiveFields = map[string]bool{
	"password":          true,
	"passwd":            true,
	"secret":            true,
	"token":             true,
	"api_key":           true,
	"apikey":            true,
	"access_token":      true,
	"private_key":       true,
	"credentials":       true,
	"auth":              true,
	"authorization":     true,
	"psk":               true,
	"sasl_password":     true,
	"secret_access_key": true,
	"session_id":        true,
	"cookie":            true,
	"home_path":         true,
	"username":          true,
	"account":           true,
	"hostname":          true,
	"ssh_key":           true,
}

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// MaskSensitiveValue masks a value if the field name is sensitive.
func MaskSensitiveValue(fieldName, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveField(fieldName) {
		return MaskedValue
	}
	return value
}

// IsSensitiveField checks if a field name is sensitive.
func IsSensitiveField(fieldName string) bool {
	lowerField := strings.ToLower(fieldName)

	if SensitiveFields[lowerField] {
		return true
	}

	for sensitive := range SensitiveFields {
		if strings.Contains(lowerField, sensitive) {
			return true
		}
	}

	return false
}

// MaskString masks a portion of a sensitive string, showing only first/last chars.
// Useful for partial visibility in debugging while protecting the value.
func MaskString(s string, showFirst, showLast int) string {
	if s == "" {
		return s
	}

	if len(s) <= showFirst+showLast+3 {
		return MaskedValue
	}

	return s[:showFirst] + "***" + s[len(s)-showLast:]
}

// SensitivePatterns contains regex patterns for sensitive data in raw strings.
var SensitivePatterns = []*regexp.Regexp{
	// Key/value credential assignments
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|psk)['":\s]*[=:]\s*['"]?([a-zA-Z0-9_\-\.]+)['"]?`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	// AWS access key IDs
	regexp.MustCompile(`(AKIA|ASIA|AROA|AIDA)[A-Z0-9]{16}`),
	// Home directories embed the local account name
	regexp.MustCompile(`(/home/|/Users/)[a-zA-Z0-9_\-\.]+`),
}

// MaskSensitivePatterns masks sensitive patterns in a raw string.
func MaskSensitivePatterns(s string) string {
	result := s
	for _, pattern := range SensitivePatterns {
		result = pattern.ReplaceAllString(result, MaskedValue)
	}
	return result
}

// SafeLogValue returns a safe-to-log version of a value based on field name.
func SafeLogValue(fieldName string, value any) any {
	if value == nil {
		return nil
	}

	if !IsSensitiveField(fieldName) {
		return value
	}

	switch v := value.(type) {
	case []string:
		masked := make([]string, len(v))
		for i := range v {
			masked[i] = MaskedValue
		}
		return masked
	default:
		return MaskedValue
	}
}

// SafeMetadata returns a copy of signal metadata with sensitive keys
// masked, suitable for structured log attributes.
func SafeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if nested, ok := v.(map[string]any); ok {
			out[k] = SafeMetadata(nested)
			continue
		}
		out[k] = SafeLogValue(k, v)
	}
	return out
}

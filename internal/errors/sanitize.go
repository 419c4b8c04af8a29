// Package errors sanitizes error text before it reaches log output.
// Daemon logs are routinely shipped to collectors, and error strings built
// from local state leak exactly the material this system exists to find:
// filesystem paths, infrastructure addresses, and connection credentials.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Absolute file paths, Linux and Windows.
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	// IPv4 addresses.
	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Connection strings and inline credentials from storage and transport
	// clients (ClickHouse, Redis, Kafka SASL, S3).
	credentialPattern = regexp.MustCompile(`(?i)(connection string|password=|secret=|token=|sasl|access[_-]?key|api[_-]?key=)`)
)

// RedactionEnabled gates sanitization. When false (the default), errors pass
// through unchanged for local debugging.
var RedactionEnabled = false

// SetRedaction enables or disables error sanitization. Called once during
// process startup.
func SetRedaction(enabled bool) {
	RedactionEnabled = enabled
}

// SanitizeError strips identifying material from an error message. With
// redaction disabled the original error is returned unchanged.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}
	if !RedactionEnabled {
		return err
	}
	return errors.New(SanitizeString(err.Error()))
}

// SanitizeString strips identifying material from a string.
func SanitizeString(s string) string {
	if !RedactionEnabled {
		return s
	}

	// Keep only the base name of absolute paths.
	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	// Mask IP addresses, keeping the first two octets for context.
	s = ipPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
		}
		return "x.x.x.x"
	})

	// Connection errors embed the full DSN including credentials.
	if credentialPattern.MatchString(s) {
		s = "backend connection failed"
	}

	// Stack traces identify the host environment line by line.
	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		s = "internal error"
	}

	return s
}

// WrapSanitized wraps an error with context and sanitizes the result.
func WrapSanitized(err error, message string) error {
	if err == nil {
		return nil
	}
	return SanitizeError(fmt.Errorf("%s: %w", message, err))
}

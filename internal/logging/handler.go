package logging

import (
	"context"
	"log/slog"

	sanitize "opsec-attrib/internal/errors"
)

// RedactHandler wraps a slog.Handler and masks sensitive attribute values
// before they reach the underlying handler. Masking happens once at the
// logging boundary instead of at every call site.
type RedactHandler struct {
	inner slog.Handler
}

// NewRedactHandler wraps an existing handler with attribute redaction.
func NewRedactHandler(inner slog.Handler) *RedactHandler {
	return &RedactHandler{inner: inner}
}

// Enabled reports whether the underlying handler handles the level.
func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts the record's attributes and forwards it.
func (h *RedactHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs redacts the bound attributes and forwards them.
func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup forwards the group to the underlying handler.
func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if IsSensitiveField(a.Key) {
		return slog.String(a.Key, MaskedValue)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, MaskSensitivePatterns(v.String()))

	case slog.KindGroup:
		attrs := v.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}

	case slog.KindAny:
		switch val := v.Any().(type) {
		case error:
			return slog.String(a.Key, sanitize.SanitizeString(MaskSensitivePatterns(val.Error())))
		case map[string]any:
			return slog.Any(a.Key, SafeMetadata(val))
		}
	}

	return a
}

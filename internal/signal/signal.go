// Package signal defines the canonical observation record for opsec-attrib.
// Detectors across all layers emit signals in this format; the correlation
// engine consumes them without further normalization.
package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Layer identifies the origin category of a signal.
type Layer string

const (
	LayerUserland Layer = "userland"
	LayerKernel   Layer = "kernel"
	LayerDNS      Layer = "dns"
	LayerNetwork  Layer = "network"
	LayerMetadata Layer = "metadata"
)

// IsValid checks if the layer is a valid value.
func (l Layer) IsValid() bool {
	switch l {
	case LayerUserland, LayerKernel, LayerDNS, LayerNetwork, LayerMetadata:
		return true
	}
	return false
}

// Strength classifies how attributive a signal is on its own.
type Strength string

const (
	// StrengthSolo signals are attributable alone.
	StrengthSolo Strength = "solo"
	// StrengthPair signals require a second signal to attribute.
	StrengthPair Strength = "pair"
	// StrengthMulti signals require three or more signals.
	StrengthMulti Strength = "multi"
	// StrengthWeak signals are rarely sufficient for attribution.
	StrengthWeak Strength = "weak"
)

// IsValid checks if the strength is a valid value.
func (s Strength) IsValid() bool {
	switch s {
	case StrengthSolo, StrengthPair, StrengthMulti, StrengthWeak:
		return true
	}
	return false
}

// Detectability classifies the adversary effort required to observe a signal.
// Carried through serialization for reporting; not consumed by scoring.
type Detectability string

const (
	DetectabilityTrivial  Detectability = "trivial"
	DetectabilityModerate Detectability = "moderate"
	DetectabilityHard     Detectability = "hard"
	DetectabilityResearch Detectability = "research"
)

// IsValid checks if the detectability is a valid value.
func (d Detectability) IsValid() bool {
	switch d {
	case DetectabilityTrivial, DetectabilityModerate, DetectabilityHard, DetectabilityResearch:
		return true
	}
	return false
}

// Signal is an immutable observation produced by a layer detector.
// The engine never mutates signals after ingestion; the Layer field is
// trusted to describe the producing detector's layer.
type Signal struct {
	ID            string         `json:"signal_id" validate:"required,signal_id"`
	Layer         Layer          `json:"layer" validate:"required,layer"`
	Description   string         `json:"description" validate:"max=1024"`
	Value         any            `json:"value"`
	Timestamp     time.Time      `json:"timestamp" validate:"required"`
	Potential     Strength       `json:"correlation_potential" validate:"required,strength"`
	Detectability Detectability  `json:"detectability" validate:"required,detectability"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Object is the exported representation of a signal. The value and any
// non-text metadata values are rendered as text.
type Object struct {
	SignalID             string         `json:"signal_id"`
	Layer                string         `json:"layer"`
	Description          string         `json:"description"`
	Value                string         `json:"value"`
	Timestamp            string         `json:"timestamp"`
	CorrelationPotential string         `json:"correlation_potential"`
	Detectability        string         `json:"detectability"`
	Metadata             map[string]any `json:"metadata"`
}

// Object returns the exported representation of the signal.
func (s *Signal) Object() Object {
	return Object{
		SignalID:             s.ID,
		Layer:                string(s.Layer),
		Description:          s.Description,
		Value:                RenderValue(s.Value),
		Timestamp:            s.Timestamp.Format(time.RFC3339Nano),
		CorrelationPotential: string(s.Potential),
		Detectability:        string(s.Detectability),
		Metadata:             renderMetadata(s.Metadata),
	}
}

// RenderValue renders a signal value as text. Strings pass through
// unchanged; everything else uses its default formatting.
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderMetadata renders metadata values as text, preserving nested
// object structure.
func renderMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = renderMetadata(val)
		case []string:
			out[k] = val
		default:
			out[k] = RenderValue(v)
		}
	}
	return out
}

// Batch groups signals produced by one detector invocation for transport
// through the ingestion pipeline.
type Batch struct {
	BatchID uuid.UUID `json:"batch_id"`
	Source  string    `json:"source"`
	Signals []Signal  `json:"signals"`
}

// NewBatch creates a batch with a fresh ID.
func NewBatch(source string, signals []Signal) *Batch {
	return &Batch{
		BatchID: uuid.New(),
		Source:  source,
		Signals: signals,
	}
}

package signal

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// idPattern defines the valid format for signal identifiers.
// Identifiers are lowercase, start with a letter, and use underscores as
// separators. Examples: "public_resolver_8_8_8_8", "timezone", "as_path_length"
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validator checks producer-supplied signals before they enter the
// correlation pipeline. The engine itself trusts validated input and never
// re-validates.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
// Observation timestamps may lag collection by days when batches come from
// offline audits, so the default age bound is generous.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    30 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("signal_id", func(fl validator.FieldLevel) bool {
		return idPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("layer", func(fl validator.FieldLevel) bool {
		return Layer(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("strength", func(fl validator.FieldLevel) bool {
		return Strength(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("detectability", func(fl validator.FieldLevel) bool {
		return Detectability(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates a signal against the producer contract.
// Returns an error if validation fails.
func (v *Validator) Validate(sig *Signal) error {
	if err := v.validate.Struct(sig); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	if sig.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if sig.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", sig.Timestamp, v.maxAge)
	}
	if sig.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", sig.Timestamp, v.maxFuture)
	}

	return nil
}

// ValidateBatch validates every signal in a batch, returning the first error.
func (v *Validator) ValidateBatch(batch *Batch) error {
	if batch.Source == "" {
		return fmt.Errorf("batch source is required")
	}
	for i := range batch.Signals {
		if err := v.Validate(&batch.Signals[i]); err != nil {
			return fmt.Errorf("signal %d (%s): %w", i, batch.Signals[i].ID, err)
		}
	}
	return nil
}

// ValidID checks if a signal identifier matches the required format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

package signal

import (
	"testing"
	"time"
)

func validTestSignal() Signal {
	return Signal{
		ID:            "public_resolver_8_8_8_8",
		Layer:         LayerDNS,
		Description:   "system resolver is a public DNS service",
		Value:         "8.8.8.8",
		Timestamp:     time.Now().UTC().Add(-time.Hour),
		Potential:     StrengthPair,
		Detectability: DetectabilityTrivial,
	}
}

func TestValidatorAcceptsValidSignal(t *testing.T) {
	v := NewValidator()
	sig := validTestSignal()
	if err := v.Validate(&sig); err != nil {
		t.Fatalf("Validate() rejected valid signal: %v", err)
	}
}

func TestValidatorRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"empty id", func(s *Signal) { s.ID = "" }},
		{"uppercase id", func(s *Signal) { s.ID = "PublicResolver" }},
		{"id starts with digit", func(s *Signal) { s.ID = "8_8_8_8_resolver" }},
		{"id with hyphen", func(s *Signal) { s.ID = "public-resolver" }},
		{"invalid layer", func(s *Signal) { s.Layer = "cloud" }},
		{"empty layer", func(s *Signal) { s.Layer = "" }},
		{"invalid strength", func(s *Signal) { s.Potential = "strong" }},
		{"invalid detectability", func(s *Signal) { s.Detectability = "easy" }},
		{"zero timestamp", func(s *Signal) { s.Timestamp = time.Time{} }},
		{"timestamp too old", func(s *Signal) { s.Timestamp = time.Now().UTC().Add(-31 * 24 * time.Hour) }},
		{"timestamp in future", func(s *Signal) { s.Timestamp = time.Now().UTC().Add(time.Hour) }},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := validTestSignal()
			tt.mutate(&sig)
			if err := v.Validate(&sig); err == nil {
				t.Error("Validate() accepted invalid signal")
			}
		})
	}
}

func TestValidatorConfigBounds(t *testing.T) {
	v := NewValidatorWithConfig(ValidatorConfig{
		MaxAge:    time.Hour,
		MaxFuture: time.Minute,
	})

	sig := validTestSignal()
	sig.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	if err := v.Validate(&sig); err == nil {
		t.Error("Validate() accepted signal older than configured max age")
	}

	sig = validTestSignal()
	sig.Timestamp = time.Now().UTC().Add(-30 * time.Minute)
	if err := v.Validate(&sig); err != nil {
		t.Errorf("Validate() rejected signal within max age: %v", err)
	}
}

func TestValidateBatch(t *testing.T) {
	v := NewValidator()

	batch := NewBatch("dns-detector", []Signal{validTestSignal()})
	if err := v.ValidateBatch(batch); err != nil {
		t.Fatalf("ValidateBatch() rejected valid batch: %v", err)
	}

	batch.Source = ""
	if err := v.ValidateBatch(batch); err == nil {
		t.Error("ValidateBatch() accepted batch without source")
	}

	bad := validTestSignal()
	bad.Layer = "cloud"
	batch = NewBatch("dns-detector", []Signal{validTestSignal(), bad})
	if err := v.ValidateBatch(batch); err == nil {
		t.Error("ValidateBatch() accepted batch with invalid signal")
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"timezone", true},
		{"public_resolver_8_8_8_8", true},
		{"as_path_length", true},
		{"", false},
		{"Timezone", false},
		{"8ball", false},
		{"has-hyphen", false},
		{"has space", false},
	}

	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

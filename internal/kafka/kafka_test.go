package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"opsec-attrib/internal/queue"
	"opsec-attrib/internal/signal"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Brokers) == 0 {
		t.Error("expected default brokers")
	}
	if cfg.Topic != "attrib.signals" {
		t.Errorf("Topic = %q, want attrib.signals", cfg.Topic)
	}
	if cfg.ConsumerGroup != "attribd" {
		t.Errorf("ConsumerGroup = %q, want attribd", cfg.ConsumerGroup)
	}
	if cfg.Partitions < 1 {
		t.Error("expected partitions >= 1")
	}
	if cfg.ReplicationFactor < 1 {
		t.Error("expected replication factor >= 1")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty brokers",
			modify: func(c *Config) {
				c.Brokers = nil
			},
			wantErr: true,
		},
		{
			name: "empty topic",
			modify: func(c *Config) {
				c.Topic = ""
			},
			wantErr: true,
		},
		{
			name: "invalid partitions",
			modify: func(c *Config) {
				c.Partitions = 0
			},
			wantErr: true,
		},
		{
			name: "invalid security protocol",
			modify: func(c *Config) {
				c.SecurityProtocol = "INVALID"
			},
			wantErr: true,
		},
		{
			name: "SASL without credentials",
			modify: func(c *Config) {
				c.SecurityProtocol = "SASL_PLAINTEXT"
				c.SASLMechanism = "PLAIN"
				c.SASLUsername = ""
			},
			wantErr: true,
		},
		{
			name: "valid SASL config",
			modify: func(c *Config) {
				c.SecurityProtocol = "SASL_PLAINTEXT"
				c.SASLMechanism = "PLAIN"
				c.SASLUsername = "user"
				c.SASLPassword = "pass"
			},
			wantErr: false,
		},
		{
			name: "SCRAM-SHA-256",
			modify: func(c *Config) {
				c.SecurityProtocol = "SASL_SSL"
				c.SASLMechanism = "SCRAM-SHA-256"
				c.SASLUsername = "user"
				c.SASLPassword = "pass"
				c.TLSSkipVerify = true
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetCompression(t *testing.T) {
	tests := []struct {
		compression string
		wantNonZero bool
	}{
		{"gzip", true},
		{"snappy", true},
		{"lz4", true},
		{"zstd", true},
		{"none", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.compression, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.CompressionType = tt.compression

			result := cfg.GetCompression()
			if tt.wantNonZero && result == 0 {
				t.Errorf("expected non-zero compression for %s", tt.compression)
			}
			if !tt.wantNonZero && result != 0 {
				t.Errorf("expected zero compression for %s", tt.compression)
			}
		})
	}
}

func TestGetDialer(t *testing.T) {
	cfg := DefaultConfig()

	dialer, err := cfg.GetDialer()
	if err != nil {
		t.Fatalf("GetDialer() error = %v", err)
	}
	if dialer == nil {
		t.Fatal("expected non-nil dialer")
	}
	if dialer.Timeout != cfg.DialTimeout {
		t.Errorf("expected timeout %v, got %v", cfg.DialTimeout, dialer.Timeout)
	}
}

func TestGetDialerWithTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLSEnabled = true
	cfg.TLSSkipVerify = true

	dialer, err := cfg.GetDialer()
	if err != nil {
		t.Fatalf("GetDialer() error = %v", err)
	}
	if dialer.TLS == nil {
		t.Error("expected TLS config to be set")
	}
}

func TestSignalTopicConfig(t *testing.T) {
	cfg := DefaultConfig()
	topic := cfg.SignalTopicConfig()

	if topic.Name != cfg.Topic {
		t.Errorf("Name = %q, want %q", topic.Name, cfg.Topic)
	}
	if topic.Partitions != cfg.Partitions {
		t.Errorf("Partitions = %d, want %d", topic.Partitions, cfg.Partitions)
	}
	if topic.RetentionMs != cfg.RetentionMs {
		t.Errorf("RetentionMs = %d, want %d", topic.RetentionMs, cfg.RetentionMs)
	}
}

func testBatch() *signal.Batch {
	return signal.NewBatch("dns-detector", []signal.Signal{
		{
			ID:            "public_resolver_8_8_8_8",
			Layer:         signal.LayerDNS,
			Description:   "system resolver is a public DNS service",
			Value:         "8.8.8.8",
			Timestamp:     time.Now().UTC().Truncate(time.Second),
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityTrivial,
		},
	})
}

func TestDecodeBatch(t *testing.T) {
	original := testBatch()
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	batch, err := decodeBatch(data)
	if err != nil {
		t.Fatalf("decodeBatch() error = %v", err)
	}

	if batch.BatchID != original.BatchID {
		t.Errorf("BatchID = %v, want %v", batch.BatchID, original.BatchID)
	}
	if batch.Source != original.Source {
		t.Errorf("Source = %q, want %q", batch.Source, original.Source)
	}
	if len(batch.Signals) != 1 {
		t.Fatalf("len(Signals) = %d, want 1", len(batch.Signals))
	}
	if batch.Signals[0].ID != "public_resolver_8_8_8_8" {
		t.Errorf("signal ID = %q", batch.Signals[0].ID)
	}
}

func TestDecodeBatchMalformed(t *testing.T) {
	if _, err := decodeBatch([]byte("{not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestQueueHandlerPushesBatch(t *testing.T) {
	q := queue.NewRingBuffer(8)
	handler := QueueHandler(q, getTestLogger())

	batch := testBatch()
	if err := handler(context.Background(), batch); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}

	popped, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if popped.BatchID != batch.BatchID {
		t.Errorf("popped BatchID = %v, want %v", popped.BatchID, batch.BatchID)
	}
}

func TestQueueHandlerDropsWhenClosed(t *testing.T) {
	q := queue.NewRingBuffer(8)
	q.Close()
	handler := QueueHandler(q, getTestLogger())

	// A closed queue logs and drops; the handler still acknowledges so the
	// consumer does not spin on the same offset.
	if err := handler(context.Background(), testBatch()); err != nil {
		t.Errorf("handler error = %v, want nil", err)
	}
}

func getTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func skipIfNoKafka(t *testing.T) {
	t.Helper()
	if os.Getenv("KAFKA_BROKERS") == "" {
		t.Skip("KAFKA_BROKERS not set, skipping integration test")
	}
}

// Integration tests - skipped if Kafka is not available
func TestPublisherIntegration(t *testing.T) {
	skipIfNoKafka(t)

	cfg := DefaultConfig()
	cfg.Brokers = []string{os.Getenv("KAFKA_BROKERS")}
	cfg.Topic = "test-topic-" + time.Now().Format("20060102150405")

	publisher, err := NewPublisher(cfg, getTestLogger())
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer publisher.Close()

	ctx := context.Background()

	status := publisher.HealthCheck(ctx)
	if !status.Healthy {
		t.Errorf("expected publisher to be healthy: %s", status.Error)
	}

	if err := publisher.Publish(ctx, testBatch()); err != nil {
		t.Errorf("Publish() error = %v", err)
	}

	metrics := publisher.GetMetrics()
	if metrics.BatchesPublished != 1 {
		t.Errorf("expected 1 batch published, got %d", metrics.BatchesPublished)
	}
}

func TestConsumerIntegration(t *testing.T) {
	skipIfNoKafka(t)

	cfg := DefaultConfig()
	cfg.Brokers = []string{os.Getenv("KAFKA_BROKERS")}
	cfg.Topic = "test-topic-" + time.Now().Format("20060102150405")
	cfg.ConsumerGroup = "test-group-" + time.Now().Format("20060102150405")
	cfg.StartOffset = -2 // Earliest

	received := make(chan *signal.Batch, 1)
	handler := func(ctx context.Context, batch *signal.Batch) error {
		received <- batch
		return nil
	}

	consumer, err := NewConsumer(cfg, handler, getTestLogger())
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	defer consumer.Stop()

	status := consumer.HealthCheck(context.Background())
	if !status.Connected {
		t.Errorf("expected consumer to be connected: %s", status.Error)
	}
}

// Unit tests for publisher/consumer state handling
func TestPublisherClosed(t *testing.T) {
	publisher := &Publisher{
		config:  DefaultConfig(),
		logger:  getTestLogger(),
		metrics: &publisherMetrics{},
	}
	publisher.closed.Store(true)

	err := publisher.Publish(context.Background(), testBatch())
	if err != ErrPublisherClosed {
		t.Errorf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestConsumerStartTwice(t *testing.T) {
	consumer := &Consumer{
		config:  DefaultConfig(),
		logger:  getTestLogger(),
		metrics: &consumerMetrics{},
	}
	consumer.started.Store(true)

	if err := consumer.StartAsync(); err == nil {
		t.Error("expected error when starting twice")
	}
}

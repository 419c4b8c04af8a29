// Package config handles configuration loading for the attribution daemon.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Queue      QueueConfig      `yaml:"queue"`
	Validation ValidationConfig `yaml:"validation"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Reporting  ReportingConfig  `yaml:"reporting"`
	Storage    StorageConfig    `yaml:"storage"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig holds correlation engine settings.
type EngineConfig struct {
	TemporalWindow     time.Duration `yaml:"temporal_window"`
	RepresentativePick string        `yaml:"representative_pick"`
	RulesPath          string        `yaml:"rules_path"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	MaxBatchSize int        `yaml:"max_batch_size"`
	DTLS         DTLSConfig `yaml:"dtls"`
}

// DTLSConfig holds DTLS (secure UDP) listener settings for signal batches.
type DTLSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Address           string        `yaml:"address"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	CAFile            string        `yaml:"ca_file"`
	RequireClientCert bool          `yaml:"require_client_cert"`
	Workers           int           `yaml:"workers"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka transport settings for signal batches.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
	MaxWait      time.Duration `yaml:"max_wait"`
	SASLUsername string        `yaml:"sasl_username"`
	SASLPassword string        `yaml:"sasl_password"`
}

// QueueConfig holds queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds signal validation settings.
type ValidationConfig struct {
	MaxSignalAge time.Duration `yaml:"max_signal_age"`
	MaxFuture    time.Duration `yaml:"max_future"`
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// ReportingConfig holds report generation settings.
type ReportingConfig struct {
	Interval   time.Duration `yaml:"interval"`
	ExportPath string        `yaml:"export_path"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter BatchWriterConfig `yaml:"batch_writer"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// BatchWriterConfig holds batch writer settings.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ArchiveConfig holds S3 report archival settings.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// CacheConfig holds Redis report cache settings.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging settings. Redact masks sensitive attribute
// values and sanitizes error text before log lines leave the process.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Redact bool   `yaml:"redact"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			TemporalWindow:     5 * time.Minute,
			RepresentativePick: "weakest",
		},
		Ingest: IngestConfig{
			MaxBatchSize: 1000,
			DTLS: DTLSConfig{
				Enabled:           false, // Enable when certificates are configured
				Address:           ":5516",
				Workers:           4,
				MaxMessageSize:    65535,
				ConnectionTimeout: 30 * time.Second,
				IdleTimeout:       5 * time.Minute,
				RequireClientCert: false,
			},
		},
		Kafka: KafkaConfig{
			Enabled:  false,
			Brokers:  []string{"localhost:9092"},
			Topic:    "attrib.signals",
			GroupID:  "attribd",
			MinBytes: 1,
			MaxBytes: 10 * 1024 * 1024,
			MaxWait:  time.Second,
		},
		Queue: QueueConfig{
			Size: 4096,
		},
		Validation: ValidationConfig{
			MaxSignalAge: 30 * 24 * time.Hour,
			MaxFuture:    5 * time.Minute,
		},
		Consumer: ConsumerConfig{
			Workers:      2,
			PollInterval: 10 * time.Millisecond,
			ShutdownWait: 30 * time.Second,
		},
		Reporting: ReportingConfig{
			Interval:   time.Minute,
			ExportPath: "reports/attribution.json",
		},
		Storage: StorageConfig{
			Enabled: false, // Disabled by default for development without ClickHouse
			ClickHouse: ClickHouseConfig{
				Hosts:           []string{"localhost:9000"},
				Database:        "attrib",
				Username:        "default",
				Password:        "",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				TLSEnabled:      false,
				DialTimeout:     10 * time.Second,
			},
			BatchWriter: BatchWriterConfig{
				BatchSize:     1000,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
			},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "attribution-reports",
			Region:  "us-east-1",
		},
		Cache: CacheConfig{
			Enabled: false,
			Address: "localhost:6379",
			TTL:     24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("ATTRIB_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from the given path, falling back to
// defaults when the file does not exist.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Credentials are
// taken from the environment so they stay out of config files.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("ATTRIB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if redact := os.Getenv("ATTRIB_LOG_REDACT"); redact == "true" {
		c.Logging.Redact = true
	}

	if enabled := os.Getenv("ATTRIB_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = splitAndTrim(host, ",")
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("ATTRIB_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}
	if pass := os.Getenv("ATTRIB_KAFKA_SASL_PASSWORD"); pass != "" {
		c.Kafka.SASLPassword = pass
	}

	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		c.Archive.AccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		c.Archive.SecretAccessKey = secret
	}

	if addr := os.Getenv("ATTRIB_REDIS_ADDR"); addr != "" {
		c.Cache.Address = addr
		c.Cache.Enabled = true
	}
	if pass := os.Getenv("ATTRIB_REDIS_PASSWORD"); pass != "" {
		c.Cache.Password = pass
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.TemporalWindow <= 0 {
		return fmt.Errorf("engine temporal_window must be positive")
	}
	switch c.Engine.RepresentativePick {
	case "weakest", "strongest":
	default:
		return fmt.Errorf("invalid representative_pick: %q", c.Engine.RepresentativePick)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer workers must be positive")
	}
	if c.Reporting.Interval <= 0 {
		return fmt.Errorf("reporting interval must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled but no clickhouse hosts configured")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive enabled but no bucket configured")
	}

	return nil
}

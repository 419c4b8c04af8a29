// Package main is the entry point for the attribution daemon.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsec-attrib/internal/config"
	"opsec-attrib/internal/consumer"
	"opsec-attrib/internal/correlation"
	sanitize "opsec-attrib/internal/errors"
	"opsec-attrib/internal/ingest"
	"opsec-attrib/internal/kafka"
	"opsec-attrib/internal/logging"
	"opsec-attrib/internal/pipeline"
	"opsec-attrib/internal/queue"
	"opsec-attrib/internal/reportcache"
	sig "opsec-attrib/internal/signal"
	"opsec-attrib/internal/storage"
	"opsec-attrib/internal/storage/s3"
)

func main() {
	// Load configuration first so logging honors the configured level.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"reporting_interval", cfg.Reporting.Interval,
		"queue_size", cfg.Queue.Size,
		"kafka_enabled", cfg.Kafka.Enabled,
		"dtls_enabled", cfg.Ingest.DTLS.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
		"cache_enabled", cfg.Cache.Enabled,
	)

	engineCfg := correlation.EngineConfig{
		TemporalWindow:     cfg.Engine.TemporalWindow,
		RepresentativePick: correlation.RepresentativePick(cfg.Engine.RepresentativePick),
	}
	if cfg.Engine.RulesPath != "" {
		data, err := os.ReadFile(cfg.Engine.RulesPath)
		if err != nil {
			slog.Error("failed to read pattern rules", "path", cfg.Engine.RulesPath, "error", err)
			os.Exit(1)
		}
		rules, err := correlation.ParsePatternRules(data)
		if err != nil {
			slog.Error("failed to parse pattern rules", "path", cfg.Engine.RulesPath, "error", err)
			os.Exit(1)
		}
		engineCfg.PatternRules = rules
		slog.Info("loaded pattern rules", "path", cfg.Engine.RulesPath, "rules", len(rules))
	}
	engine := correlation.NewEngine(engineCfg, logger)

	validator := sig.NewValidatorWithConfig(sig.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxSignalAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})

	batchQueue := queue.NewRingBuffer(cfg.Queue.Size)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sinks pipeline.Sinks

	// ClickHouse archival of signals and correlation runs.
	var chClient *storage.ClickHouseClient
	var batchWriter *storage.BatchWriter
	if cfg.Storage.Enabled {
		slog.Info("initializing ClickHouse storage",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database,
		)

		chClient, err = storage.NewClickHouseClient(storage.ClickHouseConfig{
			Hosts:           cfg.Storage.ClickHouse.Hosts,
			Database:        cfg.Storage.ClickHouse.Database,
			Username:        cfg.Storage.ClickHouse.Username,
			Password:        cfg.Storage.ClickHouse.Password,
			MaxOpenConns:    cfg.Storage.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ClickHouse.ConnMaxLifetime,
			TLSEnabled:      cfg.Storage.ClickHouse.TLSEnabled,
			DialTimeout:     cfg.Storage.ClickHouse.DialTimeout,
		})
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		migrator := storage.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		retention := storage.NewRetentionManager(chClient, storage.DefaultRetentionConfig())
		if err := retention.ApplyTTLs(ctx); err != nil {
			slog.Warn("failed to apply retention TTLs", "error", err)
		}

		batchWriter = storage.NewBatchWriter(chClient, storage.BatchWriterConfig{
			BatchSize:     cfg.Storage.BatchWriter.BatchSize,
			FlushInterval: cfg.Storage.BatchWriter.FlushInterval,
			MaxRetries:    cfg.Storage.BatchWriter.MaxRetries,
			RetryDelay:    cfg.Storage.BatchWriter.RetryDelay,
		})
		sinks.Signals = batchWriter
		sinks.Correlations = storage.NewCorrelationWriter(chClient)
	}

	// S3 archival of generated reports.
	if cfg.Archive.Enabled {
		s3Cfg := s3.DefaultConfig()
		s3Cfg.Region = cfg.Archive.Region
		s3Cfg.Bucket = cfg.Archive.Bucket
		s3Cfg.Prefix = cfg.Archive.Prefix
		s3Cfg.Endpoint = cfg.Archive.Endpoint
		s3Cfg.AccessKeyID = cfg.Archive.AccessKeyID
		s3Cfg.SecretAccessKey = cfg.Archive.SecretAccessKey
		s3Cfg.UsePathStyle = cfg.Archive.ForcePathStyle

		s3Client, err := s3.NewClient(ctx, s3Cfg, logger)
		if err != nil {
			slog.Error("failed to create S3 client", "error", err)
			os.Exit(1)
		}
		sinks.Archiver = s3.NewArchiver(s3Client, nil, logger)
	}

	// Redis cache for operator tooling.
	var cache *reportcache.Cache
	if cfg.Cache.Enabled {
		cacheCfg := reportcache.DefaultConfig()
		cacheCfg.Addr = cfg.Cache.Address
		cacheCfg.Password = cfg.Cache.Password
		cacheCfg.DB = cfg.Cache.DB
		if cfg.Cache.TTL > 0 {
			cacheCfg.TTL = cfg.Cache.TTL
		}

		store, err := reportcache.NewRedisStore(cacheCfg)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		cache = reportcache.New(store, cacheCfg.TTL, logger)
		sinks.Cache = cache
	}

	coordinator := pipeline.New(pipeline.Config{
		Interval:   cfg.Reporting.Interval,
		ExportPath: cfg.Reporting.ExportPath,
	}, engine, sinks, logger)
	coordinator.Start(ctx)

	queueConsumer := consumer.New(batchQueue, validator, coordinator, consumer.Config{
		Workers:      cfg.Consumer.Workers,
		PollInterval: cfg.Consumer.PollInterval,
		ShutdownWait: cfg.Consumer.ShutdownWait,
	})
	queueConsumer.Start(ctx)

	// Kafka transport for signal batches.
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaCfg := kafka.DefaultConfig()
		kafkaCfg.Brokers = cfg.Kafka.Brokers
		if cfg.Kafka.Topic != "" {
			kafkaCfg.Topic = cfg.Kafka.Topic
		}
		if cfg.Kafka.GroupID != "" {
			kafkaCfg.ConsumerGroup = cfg.Kafka.GroupID
		}
		if cfg.Kafka.MinBytes > 0 {
			kafkaCfg.ConsumerMinBytes = cfg.Kafka.MinBytes
		}
		if cfg.Kafka.MaxBytes > 0 {
			kafkaCfg.ConsumerMaxBytes = cfg.Kafka.MaxBytes
		}
		if cfg.Kafka.MaxWait > 0 {
			kafkaCfg.ConsumerMaxWait = cfg.Kafka.MaxWait
		}
		if cfg.Kafka.SASLUsername != "" {
			kafkaCfg.SecurityProtocol = "SASL_PLAINTEXT"
			kafkaCfg.SASLMechanism = "SCRAM-SHA-512"
			kafkaCfg.SASLUsername = cfg.Kafka.SASLUsername
			kafkaCfg.SASLPassword = cfg.Kafka.SASLPassword
		}

		admin, err := kafka.NewAdmin(kafkaCfg, logger)
		if err != nil {
			slog.Error("failed to create kafka admin", "error", err)
			os.Exit(1)
		}
		if err := admin.EnsureTopic(ctx, kafkaCfg.SignalTopicConfig()); err != nil {
			slog.Warn("failed to ensure signal topic", "topic", kafkaCfg.Topic, "error", err)
		}

		kafkaConsumer, err = kafka.NewConsumer(kafkaCfg, kafka.QueueHandler(batchQueue, logger), logger)
		if err != nil {
			slog.Error("failed to create kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := kafkaConsumer.StartAsync(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	// DTLS listener for direct detector submissions.
	var dtlsServer *ingest.DTLSServer
	if cfg.Ingest.DTLS.Enabled {
		dtlsCfg := ingest.DefaultDTLSServerConfig()
		dtlsCfg.Address = cfg.Ingest.DTLS.Address
		dtlsCfg.CertFile = cfg.Ingest.DTLS.CertFile
		dtlsCfg.KeyFile = cfg.Ingest.DTLS.KeyFile
		dtlsCfg.CAFile = cfg.Ingest.DTLS.CAFile
		dtlsCfg.RequireClientCert = cfg.Ingest.DTLS.RequireClientCert
		if cfg.Ingest.DTLS.Workers > 0 {
			dtlsCfg.Workers = cfg.Ingest.DTLS.Workers
		}
		if cfg.Ingest.DTLS.MaxMessageSize > 0 {
			dtlsCfg.MaxMessageSize = cfg.Ingest.DTLS.MaxMessageSize
		}
		if cfg.Ingest.DTLS.ConnectionTimeout > 0 {
			dtlsCfg.ConnectionTimeout = cfg.Ingest.DTLS.ConnectionTimeout
		}
		if cfg.Ingest.DTLS.IdleTimeout > 0 {
			dtlsCfg.IdleTimeout = cfg.Ingest.DTLS.IdleTimeout
		}

		dtlsServer, err = ingest.NewDTLSServer(dtlsCfg, validator, batchQueue, logger)
		if err != nil {
			slog.Error("failed to create DTLS server", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := dtlsServer.Start(ctx); err != nil {
				slog.Error("DTLS server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	received := <-quit

	slog.Info("shutdown signal received", "signal", received.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop ingestion first so nothing new enters the queue, then drain.
	if dtlsServer != nil {
		dtlsServer.Stop()
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			slog.Error("kafka consumer stop error", "error", err)
		}
	}

	queueConsumer.Stop()

	// Final correlation pass over whatever arrived since the last tick.
	if _, err := coordinator.RunOnce(shutdownCtx); err != nil {
		slog.Error("final correlation run failed", "error", err)
	}
	coordinator.Stop()

	cancel()

	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			slog.Error("report cache close error", "error", err)
		}
	}

	batchQueue.Close()

	queueMetrics := batchQueue.Metrics()
	pipelineMetrics := coordinator.Metrics()
	slog.Info("shutdown complete",
		"batches_pushed", queueMetrics.Pushed,
		"batches_popped", queueMetrics.Popped,
		"batches_dropped", queueMetrics.Dropped,
		"signals_accepted", pipelineMetrics.SignalsAccepted,
		"correlation_runs", pipelineMetrics.Runs,
		"sink_errors", pipelineMetrics.SinkErrors,
	)
}

// buildLogger constructs the process logger from the logging configuration.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if cfg.Redact {
		sanitize.SetRedaction(true)
		handler = logging.NewRedactHandler(handler)
	}

	return slog.New(handler)
}

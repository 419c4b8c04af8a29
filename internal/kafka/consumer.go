package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"opsec-attrib/internal/queue"
	"opsec-attrib/internal/signal"
)

// BatchHandler processes a consumed signal batch. Return nil to acknowledge
// the message, or an error to leave it uncommitted for reprocessing.
type BatchHandler func(ctx context.Context, batch *signal.Batch) error

// QueueHandler returns a BatchHandler that pushes batches onto the ingest
// queue. A full queue drops the batch rather than stalling the partition.
func QueueHandler(q *queue.RingBuffer, logger *slog.Logger) BatchHandler {
	return func(_ context.Context, batch *signal.Batch) error {
		if err := q.Push(batch); err != nil {
			logger.Warn("dropping batch, queue unavailable",
				"batch_id", batch.BatchID,
				"source", batch.Source,
				"error", err,
			)
		}
		return nil
	}
}

// Consumer reads signal batches from the signal topic and hands them to a
// BatchHandler.
type Consumer struct {
	reader  *kafka.Reader
	config  *Config
	logger  *slog.Logger
	handler BatchHandler
	metrics *consumerMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool
}

type consumerMetrics struct {
	batchesConsumed atomic.Int64
	bytesConsumed   atomic.Int64
	decodeErrors    atomic.Int64
	errors          atomic.Int64
	lastOffset      atomic.Int64
	lastError       atomic.Value
	lastErrorTime   atomic.Value
}

// NewConsumer creates a new signal batch consumer.
func NewConsumer(config *Config, handler BatchHandler, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("kafka: batch handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           config.Brokers,
		GroupID:           config.ConsumerGroup,
		Topic:             config.Topic,
		Dialer:            dialer,
		MinBytes:          config.ConsumerMinBytes,
		MaxBytes:          config.ConsumerMaxBytes,
		MaxWait:           config.ConsumerMaxWait,
		CommitInterval:    config.CommitInterval,
		StartOffset:       config.StartOffset,
		HeartbeatInterval: config.HeartbeatInterval,
		SessionTimeout:    config.SessionTimeout,
		RebalanceTimeout:  config.RebalanceTimeout,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		reader:  reader,
		config:  config,
		logger:  logger,
		handler: handler,
		metrics: &consumerMetrics{},
		ctx:     ctx,
		cancel:  cancel,
	}

	logger.Info("kafka consumer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup,
	)

	return c, nil
}

// Start begins consuming batches. This is a blocking call.
// Use StartAsync for non-blocking consumption.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.logger.Info("starting kafka consumer",
		"topic", c.config.Topic,
		"group", c.config.ConsumerGroup,
	)

	return c.consumeLoop()
}

// StartAsync begins consuming batches in a goroutine.
// Returns immediately. Use Stop() to stop consumption.
func (c *Consumer) StartAsync() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited with error", "error", err)
		}
	}()

	return nil
}

func (c *Consumer) consumeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			c.metrics.errors.Add(1)
			c.metrics.lastError.Store(err)
			c.metrics.lastErrorTime.Store(time.Now())

			c.logger.Error("failed to fetch message",
				"error", err,
				"topic", c.config.Topic,
			)

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		batch, err := decodeBatch(msg.Value)
		if err != nil {
			// Malformed payloads are committed and skipped so a poison
			// message cannot wedge the partition.
			c.metrics.decodeErrors.Add(1)
			c.logger.Warn("skipping undecodable batch",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			c.commit(msg)
			continue
		}

		if err := c.processBatch(batch); err != nil {
			c.logger.Error("failed to process batch",
				"error", err,
				"batch_id", batch.BatchID,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			// Leave uncommitted for redelivery.
			continue
		}

		c.commit(msg)

		c.metrics.batchesConsumed.Add(1)
		c.metrics.bytesConsumed.Add(int64(len(msg.Value) + len(msg.Key)))
		c.metrics.lastOffset.Store(msg.Offset)
	}
}

func decodeBatch(value []byte) (*signal.Batch, error) {
	var batch signal.Batch
	if err := json.Unmarshal(value, &batch); err != nil {
		return nil, fmt.Errorf("kafka: failed to decode batch: %w", err)
	}
	return &batch, nil
}

func (c *Consumer) processBatch(batch *signal.Batch) error {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if err := c.handler(ctx, batch); err != nil {
		c.metrics.errors.Add(1)
		return err
	}
	return nil
}

func (c *Consumer) commit(msg kafka.Message) {
	if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
		c.logger.Error("failed to commit offset",
			"error", err,
			"offset", msg.Offset,
		)
	}
}

// GetMetrics returns current consumer metrics.
func (c *Consumer) GetMetrics() Metrics {
	m := Metrics{
		BatchesConsumed: c.metrics.batchesConsumed.Load(),
		BytesConsumed:   c.metrics.bytesConsumed.Load(),
		DecodeErrors:    c.metrics.decodeErrors.Load(),
		Errors:          c.metrics.errors.Load(),
	}

	if err := c.metrics.lastError.Load(); err != nil {
		m.LastError = err.(error)
	}
	if t := c.metrics.lastErrorTime.Load(); t != nil {
		m.LastErrorTime = t.(time.Time)
	}

	return m
}

// Stats returns internal reader statistics.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// HealthCheck verifies the consumer can connect to Kafka.
func (c *Consumer) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		LastCheck: time.Now(),
	}

	if c.closed.Load() {
		status.Error = "consumer is closed"
		return status
	}

	start := time.Now()

	dialer, err := c.config.GetDialer()
	if err != nil {
		status.Error = fmt.Sprintf("failed to create dialer: %v", err)
		return status
	}

	conn, err := dialer.DialContext(ctx, "tcp", c.config.Brokers[0])
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer conn.Close()

	brokers, err := conn.Brokers()
	if err != nil {
		status.Error = fmt.Sprintf("failed to get brokers: %v", err)
		return status
	}

	status.Latency = time.Since(start)
	status.Connected = true
	status.Healthy = c.started.Load() && !c.closed.Load()
	status.BrokerCount = len(brokers)

	return status
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.logger.Info("stopping kafka consumer",
		"batches_consumed", c.metrics.batchesConsumed.Load(),
		"bytes_consumed", c.metrics.bytesConsumed.Load(),
	)

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}

	return nil
}

// Package consumer drains the ingest queue, validates signal batches, and
// hands them to the correlation pipeline.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"opsec-attrib/internal/queue"
	"opsec-attrib/internal/signal"
)

// Sink receives validated signal batches.
type Sink interface {
	Accept(batch *signal.Batch) error
}

// Config holds the consumer configuration.
type Config struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer reads batches from the queue and forwards valid ones to the sink.
type Consumer struct {
	queue     *queue.RingBuffer
	validator *signal.Validator
	sink      Sink
	config    Config

	wg   sync.WaitGroup
	done chan struct{}

	// Metrics
	consumed uint64
	rejected uint64
	errors   uint64
}

// New creates a new Consumer.
func New(q *queue.RingBuffer, v *signal.Validator, sink Sink, cfg Config) *Consumer {
	return &Consumer{
		queue:     q,
		validator: v,
		sink:      sink,
		config:    cfg,
		done:      make(chan struct{}),
	}
}

// Start starts the consumer workers.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	slog.Info("batch consumer started", "workers", c.config.Workers)
}

// worker is a single consumer worker goroutine.
func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	slog.Debug("consumer worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("consumer worker stopping (context)", "worker_id", id)
			return
		case <-c.done:
			slog.Debug("consumer worker stopping (done)", "worker_id", id)
			return
		default:
			batch, err := c.queue.PopWithTimeout(c.config.PollInterval)
			if err != nil {
				if errors.Is(err, queue.ErrQueueEmpty) {
					continue
				}
				if errors.Is(err, queue.ErrQueueClosed) {
					return
				}
				slog.Warn("unexpected queue error", "worker_id", id, "error", err)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			if err := c.validator.ValidateBatch(batch); err != nil {
				slog.Warn("rejected invalid batch",
					"worker_id", id,
					"batch_id", batch.BatchID,
					"source", batch.Source,
					"error", err,
				)
				atomic.AddUint64(&c.rejected, 1)
				continue
			}

			if err := c.sink.Accept(batch); err != nil {
				slog.Error("sink rejected batch",
					"worker_id", id,
					"batch_id", batch.BatchID,
					"error", err,
				)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			atomic.AddUint64(&c.consumed, 1)
		}
	}
}

// Stop stops the consumer gracefully.
func (c *Consumer) Stop() {
	close(c.done)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("batch consumer stopped gracefully")
	case <-time.After(c.config.ShutdownWait):
		slog.Warn("batch consumer shutdown timed out")
	}
}

// Metrics returns consumer statistics.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Consumed: atomic.LoadUint64(&c.consumed),
		Rejected: atomic.LoadUint64(&c.rejected),
		Errors:   atomic.LoadUint64(&c.errors),
	}
}

// ConsumerMetrics holds consumer statistics.
type ConsumerMetrics struct {
	Consumed uint64 `json:"consumed"`
	Rejected uint64 `json:"rejected"`
	Errors   uint64 `json:"errors"`
}

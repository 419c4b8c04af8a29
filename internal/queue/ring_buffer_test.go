package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"opsec-attrib/internal/signal"
)

func newTestBatch() *signal.Batch {
	return signal.NewBatch("test-detector", []signal.Signal{
		{
			ID:            "timezone",
			Layer:         signal.LayerUserland,
			Timestamp:     time.Now().UTC(),
			Potential:     signal.StrengthPair,
			Detectability: signal.DetectabilityTrivial,
		},
	})
}

func TestNewRingBuffer(t *testing.T) {
	t.Run("with valid size", func(t *testing.T) {
		rb := NewRingBuffer(100)
		if rb.Cap() != 100 {
			t.Errorf("Cap() = %d, want 100", rb.Cap())
		}
		if rb.Len() != 0 {
			t.Errorf("Len() = %d, want 0", rb.Len())
		}
	})

	t.Run("with zero size uses default", func(t *testing.T) {
		rb := NewRingBuffer(0)
		if rb.Cap() != 4096 {
			t.Errorf("Cap() = %d, want 4096 (default)", rb.Cap())
		}
	})

	t.Run("with negative size uses default", func(t *testing.T) {
		rb := NewRingBuffer(-5)
		if rb.Cap() != 4096 {
			t.Errorf("Cap() = %d, want 4096 (default)", rb.Cap())
		}
	})
}

func TestRingBuffer_PushPop(t *testing.T) {
	rb := NewRingBuffer(10)

	t.Run("push single batch", func(t *testing.T) {
		if err := rb.Push(newTestBatch()); err != nil {
			t.Errorf("Push() error = %v", err)
		}
		if rb.Len() != 1 {
			t.Errorf("Len() = %d, want 1", rb.Len())
		}
	})

	t.Run("pop single batch", func(t *testing.T) {
		batch, err := rb.Pop()
		if err != nil {
			t.Errorf("Pop() error = %v", err)
		}
		if batch == nil {
			t.Error("Pop() returned nil batch")
		}
		if rb.Len() != 0 {
			t.Errorf("Len() = %d, want 0", rb.Len())
		}
	})

	t.Run("pop from empty queue", func(t *testing.T) {
		_, err := rb.Pop()
		if err != ErrQueueEmpty {
			t.Errorf("Pop() error = %v, want ErrQueueEmpty", err)
		}
	})
}

func TestRingBuffer_FIFO(t *testing.T) {
	rb := NewRingBuffer(10)

	ids := make([]uuid.UUID, 5)
	for i := 0; i < 5; i++ {
		batch := newTestBatch()
		ids[i] = batch.BatchID
		if err := rb.Push(batch); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		batch, err := rb.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if batch.BatchID != ids[i] {
			t.Errorf("Pop() returned batch with ID %v, want %v", batch.BatchID, ids[i])
		}
	}
}

func TestRingBuffer_Full(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 3; i++ {
		if err := rb.Push(newTestBatch()); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	if !rb.IsFull() {
		t.Error("IsFull() = false, want true")
	}

	if err := rb.Push(newTestBatch()); err != ErrQueueFull {
		t.Errorf("Push() error = %v, want ErrQueueFull", err)
	}

	metrics := rb.Metrics()
	if metrics.Dropped != 1 {
		t.Errorf("Metrics().Dropped = %d, want 1", metrics.Dropped)
	}
}

func TestRingBuffer_Wrap(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 3; i++ {
		rb.Push(newTestBatch())
	}
	rb.Pop()
	rb.Pop()

	for i := 0; i < 2; i++ {
		if err := rb.Push(newTestBatch()); err != nil {
			t.Errorf("Push() error = %v after wrap", err)
		}
	}

	if rb.Len() != 3 {
		t.Errorf("Len() = %d, want 3", rb.Len())
	}
}

func TestRingBuffer_Metrics(t *testing.T) {
	rb := NewRingBuffer(5)

	m := rb.Metrics()
	if m.Pushed != 0 || m.Popped != 0 || m.Dropped != 0 {
		t.Errorf("Initial metrics = %+v, want all zeros", m)
	}

	for i := 0; i < 3; i++ {
		rb.Push(newTestBatch())
	}

	m = rb.Metrics()
	if m.Pushed != 3 {
		t.Errorf("Pushed = %d, want 3", m.Pushed)
	}
	if m.Depth != 3 {
		t.Errorf("Depth = %d, want 3", m.Depth)
	}

	rb.Pop()
	rb.Pop()

	m = rb.Metrics()
	if m.Popped != 2 {
		t.Errorf("Popped = %d, want 2", m.Popped)
	}
	if m.Depth != 1 {
		t.Errorf("Depth = %d, want 1", m.Depth)
	}
}

func TestRingBuffer_Close(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Push(newTestBatch())

	rb.Close()

	if err := rb.Push(newTestBatch()); err != ErrQueueClosed {
		t.Errorf("Push() error = %v, want ErrQueueClosed", err)
	}

	// Draining a closed queue still works.
	batch, err := rb.Pop()
	if err != nil {
		t.Errorf("Pop() error = %v", err)
	}
	if batch == nil {
		t.Error("Pop() returned nil")
	}

	_, err = rb.PopBlocking()
	if err != ErrQueueClosed {
		t.Errorf("PopBlocking() error = %v, want ErrQueueClosed", err)
	}
}

func TestRingBuffer_PopBlocking(t *testing.T) {
	rb := NewRingBuffer(10)

	go func() {
		time.Sleep(50 * time.Millisecond)
		rb.Push(newTestBatch())
	}()

	start := time.Now()
	batch, err := rb.PopBlocking()
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("PopBlocking() error = %v", err)
	}
	if batch == nil {
		t.Error("PopBlocking() returned nil")
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("PopBlocking() returned too quickly: %v", elapsed)
	}
}

func TestRingBuffer_PopWithTimeout(t *testing.T) {
	rb := NewRingBuffer(10)

	t.Run("timeout on empty queue", func(t *testing.T) {
		start := time.Now()
		_, err := rb.PopWithTimeout(50 * time.Millisecond)
		elapsed := time.Since(start)

		if err != ErrQueueEmpty {
			t.Errorf("PopWithTimeout() error = %v, want ErrQueueEmpty", err)
		}
		if elapsed < 40*time.Millisecond {
			t.Errorf("PopWithTimeout() returned too quickly: %v", elapsed)
		}
	})

	t.Run("returns batch if available", func(t *testing.T) {
		rb.Push(newTestBatch())

		batch, err := rb.PopWithTimeout(100 * time.Millisecond)
		if err != nil {
			t.Errorf("PopWithTimeout() error = %v", err)
		}
		if batch == nil {
			t.Error("PopWithTimeout() returned nil")
		}
	})
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(100)

	const numProducers = 5
	const numConsumers = 3
	const batchesPerProducer = 100

	var wg sync.WaitGroup
	var consumed uint64

	for i := 0; i < numProducers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < batchesPerProducer; j++ {
				// Drops are expected when the queue is full.
				rb.Push(newTestBatch())
			}
		}()
	}

	done := make(chan struct{})
	for i := 0; i < numConsumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					for {
						if _, err := rb.Pop(); err != nil {
							return
						}
						atomic.AddUint64(&consumed, 1)
					}
				default:
					if _, err := rb.Pop(); err == nil {
						atomic.AddUint64(&consumed, 1)
					} else {
						time.Sleep(time.Microsecond)
					}
				}
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(done)
	wg.Wait()

	metrics := rb.Metrics()
	totalExpected := uint64(numProducers * batchesPerProducer)

	if metrics.Pushed+metrics.Dropped != totalExpected {
		t.Errorf("Pushed(%d) + Dropped(%d) = %d, want %d",
			metrics.Pushed, metrics.Dropped, metrics.Pushed+metrics.Dropped, totalExpected)
	}
	if metrics.Popped != atomic.LoadUint64(&consumed) {
		t.Errorf("Popped = %d, consumers counted %d", metrics.Popped, consumed)
	}
}

package ingest

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimitConfig configures the per-source rate limiter.
type RateLimitConfig struct {
	// BatchesPerSource is the allowed batch count per window.
	BatchesPerSource int `json:"batches_per_source" yaml:"batches_per_source"`

	// BurstSize is the extra headroom above the base limit.
	BurstSize int `json:"burst_size" yaml:"burst_size"`

	// WindowSize is the rate limit window.
	WindowSize time.Duration `json:"window_size" yaml:"window_size"`

	// CleanupPeriod controls how often idle sources are evicted.
	CleanupPeriod time.Duration `json:"cleanup_period" yaml:"cleanup_period"`
}

// DefaultRateLimitConfig returns sensible rate limiter defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		BatchesPerSource: 600,
		BurstSize:        100,
		WindowSize:       time.Minute,
		CleanupPeriod:    5 * time.Minute,
	}
}

// RateLimiter implements a sliding window rate limiter keyed by source address.
type RateLimiter struct {
	cfg         RateLimitConfig
	sources     map[string]*sourceState
	mu          sync.RWMutex
	stopCleanup chan struct{}
}

// sourceState tracks batch counts for a single source.
type sourceState struct {
	count     int64
	windowEnd time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		cfg:         cfg,
		sources:     make(map[string]*sourceState),
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow checks if a batch from the given source should be accepted.
// Returns (allowed, remaining, resetTime).
func (rl *RateLimiter) Allow(source string) (bool, int, time.Time) {
	now := time.Now()

	rl.mu.Lock()
	state, exists := rl.sources[source]
	if !exists {
		state = &sourceState{
			windowEnd: now.Add(rl.cfg.WindowSize),
		}
		rl.sources[source] = state
	}
	rl.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	if now.After(state.windowEnd) {
		state.count = 0
		state.windowEnd = now.Add(rl.cfg.WindowSize)
	}

	limit := int64(rl.cfg.BatchesPerSource + rl.cfg.BurstSize)
	remaining := limit - state.count - 1

	if state.count >= limit {
		return false, 0, state.windowEnd
	}

	state.count++
	if remaining < 0 {
		remaining = 0
	}

	return true, int(remaining), state.windowEnd
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes entries idle for at least two windows.
func (rl *RateLimiter) cleanup() {
	expiredThreshold := time.Now().Add(-rl.cfg.WindowSize * 2)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for source, state := range rl.sources {
		state.mu.Lock()
		if state.windowEnd.Before(expiredThreshold) {
			delete(rl.sources, source)
			removed++
		}
		state.mu.Unlock()
	}

	if removed > 0 {
		slog.Debug("rate limiter cleanup", "removed", removed, "remaining", len(rl.sources))
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	var total int64
	for _, state := range rl.sources {
		state.mu.Lock()
		total += state.count
		state.mu.Unlock()
	}

	return RateLimiterStats{
		TrackedSources: len(rl.sources),
		TotalBatches:   total,
	}
}

// RateLimiterStats holds rate limiter statistics.
type RateLimiterStats struct {
	TrackedSources int   `json:"tracked_sources"`
	TotalBatches   int64 `json:"total_batches"`
}

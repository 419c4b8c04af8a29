// Package reportcache keeps the most recent attribution report and
// mitigation set in Redis for quick retrieval by operator tooling.
package reportcache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"opsec-attrib/internal/correlation"
)

const (
	latestReportKey      = "attrib:report:latest"
	latestMitigationsKey = "attrib:mitigations:latest"
)

// ErrNotCached is returned when no report has been cached yet (or it expired).
var ErrNotCached = errors.New("reportcache: not cached")

// Config holds Redis connection settings for the report cache.
type Config struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB           int           `json:"db" yaml:"db"`
	TLSEnabled   bool          `json:"tls_enabled" yaml:"tls_enabled"`
	TTL          time.Duration `json:"ttl" yaml:"ttl"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		TTL:          24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MaxRetries:   3,
	}
}

// KVStore is the minimal key/value surface the cache needs. Implemented by
// RedisStore and by MemoryStore for tests.
type KVStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// RedisStore wraps go-redis to implement KVStore.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates and pings a Redis-backed store.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("reportcache: failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Set stores a value with TTL.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a value.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotCached
		}
		return nil, err
	}
	return []byte(val), nil
}

// Delete removes one or more keys.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Cache caches the latest report and its mitigation set.
type Cache struct {
	store  KVStore
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a report cache on top of a KVStore.
func New(store KVStore, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// StoreLatest caches the report, replacing any previous one.
func (c *Cache) StoreLatest(ctx context.Context, report *correlation.Report) error {
	data, err := report.Encode()
	if err != nil {
		return fmt.Errorf("reportcache: failed to encode report: %w", err)
	}

	if err := c.store.Set(ctx, latestReportKey, data, c.ttl); err != nil {
		return fmt.Errorf("reportcache: failed to store report: %w", err)
	}

	c.logger.Debug("cached latest report",
		"signals", report.Summary.TotalSignals,
		"correlations", report.Summary.TotalCorrelations,
		"ttl", c.ttl,
	)

	return nil
}

// Latest returns the most recently cached report, or ErrNotCached.
func (c *Cache) Latest(ctx context.Context) (*correlation.Report, error) {
	data, err := c.store.Get(ctx, latestReportKey)
	if err != nil {
		return nil, err
	}

	var report correlation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("reportcache: failed to decode cached report: %w", err)
	}

	return &report, nil
}

// StoreMitigations caches the current mitigation recommendations.
func (c *Cache) StoreMitigations(ctx context.Context, recs []correlation.Recommendation) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("reportcache: failed to encode mitigations: %w", err)
	}

	if err := c.store.Set(ctx, latestMitigationsKey, data, c.ttl); err != nil {
		return fmt.Errorf("reportcache: failed to store mitigations: %w", err)
	}

	return nil
}

// Mitigations returns the most recently cached recommendations, or ErrNotCached.
func (c *Cache) Mitigations(ctx context.Context) ([]correlation.Recommendation, error) {
	data, err := c.store.Get(ctx, latestMitigationsKey)
	if err != nil {
		return nil, err
	}

	var recs []correlation.Recommendation
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("reportcache: failed to decode cached mitigations: %w", err)
	}

	return recs, nil
}

// Invalidate removes all cached entries.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.store.Delete(ctx, latestReportKey, latestMitigationsKey)
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// MemoryStore is an in-memory KVStore for testing.
type MemoryStore struct {
	data   map[string][]byte
	expiry map[string]time.Time
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string][]byte),
		expiry: make(map[string]time.Time),
	}
}

// Set stores a value with TTL.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("store closed")
	}

	m.data[key] = value
	if ttl > 0 {
		m.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

// Get retrieves a value.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.New("store closed")
	}

	if exp, ok := m.expiry[key]; ok && time.Now().After(exp) {
		return nil, ErrNotCached
	}

	val, ok := m.data[key]
	if !ok {
		return nil, ErrNotCached
	}
	return val, nil
}

// Delete removes keys.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("store closed")
	}

	for _, key := range keys {
		delete(m.data, key)
		delete(m.expiry, key)
	}
	return nil
}

// Close marks the store as closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

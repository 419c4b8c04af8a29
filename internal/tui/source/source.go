// Package source loads attribution reports for the viewer, from an exported
// report file or from the Redis cache.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/pipeline"
	"opsec-attrib/internal/reportcache"
)

// ErrNoReport is returned when no report is available yet.
var ErrNoReport = errors.New("source: no report available")

// Source provides the latest report and mitigation set.
type Source interface {
	Report(ctx context.Context) (*correlation.Report, error)
	Mitigations(ctx context.Context) ([]correlation.Recommendation, error)
}

// FileSource reads an exported report file, plus the mitigations file the
// pipeline writes next to it.
type FileSource struct {
	ReportPath string
}

// NewFileSource creates a file-backed source.
func NewFileSource(reportPath string) *FileSource {
	return &FileSource{ReportPath: reportPath}
}

// Report reads and decodes the report file.
func (f *FileSource) Report(_ context.Context) (*correlation.Report, error) {
	data, err := os.ReadFile(f.ReportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("source: failed to read report: %w", err)
	}

	var report correlation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("source: failed to decode report: %w", err)
	}
	return &report, nil
}

// Mitigations reads the mitigations file written next to the report.
// A missing file means no recommendations, not an error.
func (f *FileSource) Mitigations(_ context.Context) ([]correlation.Recommendation, error) {
	data, err := os.ReadFile(pipeline.MitigationsPath(f.ReportPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("source: failed to read mitigations: %w", err)
	}

	var recs []correlation.Recommendation
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("source: failed to decode mitigations: %w", err)
	}
	return recs, nil
}

// CacheSource reads the latest report from the Redis-backed report cache.
type CacheSource struct {
	cache *reportcache.Cache
}

// NewCacheSource creates a cache-backed source.
func NewCacheSource(cache *reportcache.Cache) *CacheSource {
	return &CacheSource{cache: cache}
}

// Report returns the most recently cached report.
func (c *CacheSource) Report(ctx context.Context) (*correlation.Report, error) {
	report, err := c.cache.Latest(ctx)
	if errors.Is(err, reportcache.ErrNotCached) {
		return nil, ErrNoReport
	}
	return report, err
}

// Mitigations returns the most recently cached recommendations.
func (c *CacheSource) Mitigations(ctx context.Context) ([]correlation.Recommendation, error) {
	recs, err := c.cache.Mitigations(ctx)
	if errors.Is(err, reportcache.ErrNotCached) {
		return nil, nil
	}
	return recs, err
}

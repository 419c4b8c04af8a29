package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"opsec-attrib/internal/correlation"
)

// CompressionType defines compression algorithms for archived reports.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
)

// ArchiveManifest describes one archived report. The checksum is the
// BLAKE2b-256 digest of the stored (compressed) object, verified on retrieval.
type ArchiveManifest struct {
	ID                string          `json:"archive_id"`
	Key               string          `json:"key"`
	GeneratedAt       time.Time       `json:"generated_at"`
	ArchivedAt        time.Time       `json:"archived_at"`
	TotalSignals      int             `json:"total_signals"`
	TotalCorrelations int             `json:"total_correlations"`
	OriginalBytes     int64           `json:"original_bytes"`
	CompressedBytes   int64           `json:"compressed_bytes"`
	Compression       CompressionType `json:"compression"`
	Checksum          string          `json:"checksum"`
}

// ArchiverConfig configures the report archiver.
type ArchiverConfig struct {
	// Compression algorithm for stored report objects.
	Compression CompressionType `json:"compression" yaml:"compression"`

	// PathTemplate for report keys (supports {date}, {id}, {year}, {month}, {day}).
	PathTemplate string `json:"path_template" yaml:"path_template"`
}

// DefaultArchiverConfig returns default archiver configuration.
func DefaultArchiverConfig() *ArchiverConfig {
	return &ArchiverConfig{
		Compression:  CompressionGzip,
		PathTemplate: "attribution/{date}/{id}.json.gz",
	}
}

type archiverMetrics struct {
	reportsArchived atomic.Int64
	bytesArchived   atomic.Int64
	errors          atomic.Int64
}

// Archiver writes attribution reports to object storage with compression
// and checksummed manifests.
type Archiver struct {
	client  *Client
	config  *ArchiverConfig
	logger  *slog.Logger
	metrics *archiverMetrics
}

// NewArchiver creates a new report archiver.
func NewArchiver(client *Client, cfg *ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg == nil {
		cfg = DefaultArchiverConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client:  client,
		config:  cfg,
		logger:  logger,
		metrics: &archiverMetrics{},
	}
}

// Archive uploads one report plus its manifest and returns the manifest.
func (a *Archiver) Archive(ctx context.Context, report *correlation.Report) (*ArchiveManifest, error) {
	if report == nil {
		return nil, nil
	}

	data, err := report.Encode()
	if err != nil {
		a.metrics.errors.Add(1)
		return nil, fmt.Errorf("s3: failed to encode report: %w", err)
	}

	compressed, err := a.compress(data)
	if err != nil {
		a.metrics.errors.Add(1)
		return nil, fmt.Errorf("s3: failed to compress report: %w", err)
	}

	archiveID := uuid.New().String()
	sum := blake2b.Sum256(compressed)
	checksum := hex.EncodeToString(sum[:])
	key := a.generateKey(archiveID)

	contentType := "application/json"
	if a.config.Compression == CompressionGzip {
		contentType = "application/gzip"
	}

	_, err = a.client.Upload(ctx, &UploadInput{
		Key:         key,
		Body:        bytes.NewReader(compressed),
		ContentType: contentType,
		Metadata: map[string]string{
			"archive-id":    archiveID,
			"compression":   string(a.config.Compression),
			"checksum":      checksum,
			"original-size": fmt.Sprintf("%d", len(data)),
		},
	})
	if err != nil {
		a.metrics.errors.Add(1)
		return nil, err
	}

	generatedAt, _ := time.Parse(time.RFC3339Nano, report.Timestamp)

	manifest := &ArchiveManifest{
		ID:                archiveID,
		Key:               key,
		GeneratedAt:       generatedAt,
		ArchivedAt:        time.Now().UTC(),
		TotalSignals:      report.Summary.TotalSignals,
		TotalCorrelations: report.Summary.TotalCorrelations,
		OriginalBytes:     int64(len(data)),
		CompressedBytes:   int64(len(compressed)),
		Compression:       a.config.Compression,
		Checksum:          checksum,
	}

	if err := a.uploadManifest(ctx, manifest); err != nil {
		a.metrics.errors.Add(1)
		return nil, fmt.Errorf("s3: failed to upload manifest: %w", err)
	}

	a.metrics.reportsArchived.Add(1)
	a.metrics.bytesArchived.Add(int64(len(compressed)))

	a.logger.Info("archived report",
		"archive_id", archiveID,
		"key", key,
		"signals", manifest.TotalSignals,
		"correlations", manifest.TotalCorrelations,
		"bytes", manifest.CompressedBytes,
	)

	return manifest, nil
}

// Retrieve downloads an archived report, verifying its checksum.
func (a *Archiver) Retrieve(ctx context.Context, archiveID string) (*correlation.Report, error) {
	manifest, err := a.getManifest(ctx, archiveID)
	if err != nil {
		return nil, err
	}

	output, err := a.client.Download(ctx, a.stripPrefix(manifest.Key))
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	compressed, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to read archived report: %w", err)
	}

	sum := blake2b.Sum256(compressed)
	if checksum := hex.EncodeToString(sum[:]); checksum != manifest.Checksum {
		return nil, fmt.Errorf("s3: checksum mismatch for archive %s: got %s, want %s",
			archiveID, checksum, manifest.Checksum)
	}

	data, err := a.decompress(compressed, manifest.Compression)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to decompress archive %s: %w", archiveID, err)
	}

	var report correlation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("s3: failed to decode archived report: %w", err)
	}

	return &report, nil
}

// ListArchives returns manifests for all archived reports.
func (a *Archiver) ListArchives(ctx context.Context) ([]ArchiveManifest, error) {
	objects, err := a.client.List(ctx, "manifests/", 0)
	if err != nil {
		return nil, err
	}

	var manifests []ArchiveManifest
	for _, obj := range objects {
		output, err := a.client.Download(ctx, a.stripPrefix(obj.Key))
		if err != nil {
			a.logger.Warn("failed to download manifest", "key", obj.Key, "error", err)
			continue
		}

		data, err := io.ReadAll(output.Body)
		output.Body.Close()
		if err != nil {
			continue
		}

		var manifest ArchiveManifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			continue
		}
		manifests = append(manifests, manifest)
	}

	return manifests, nil
}

func (a *Archiver) getManifest(ctx context.Context, archiveID string) (*ArchiveManifest, error) {
	output, err := a.client.Download(ctx, manifestKey(archiveID))
	if err != nil {
		return nil, fmt.Errorf("s3: manifest not found for archive %s: %w", archiveID, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}

	var manifest ArchiveManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (a *Archiver) uploadManifest(ctx context.Context, manifest *ArchiveManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	_, err = a.client.Upload(ctx, &UploadInput{
		Key:         manifestKey(manifest.ID),
		Body:        bytes.NewReader(data),
		ContentType: "application/json",
		Metadata: map[string]string{
			"archive-id": manifest.ID,
		},
	})
	return err
}

func manifestKey(archiveID string) string {
	return "manifests/" + archiveID + ".json"
}

// stripPrefix removes the client's key prefix, since Download re-adds it.
func (a *Archiver) stripPrefix(key string) string {
	return strings.TrimPrefix(key, a.client.GetPrefix())
}

func (a *Archiver) compress(data []byte) ([]byte, error) {
	switch a.config.Compression {
	case CompressionGzip:
		var buf bytes.Buffer
		gzWriter := gzip.NewWriter(&buf)
		if _, err := gzWriter.Write(data); err != nil {
			return nil, err
		}
		if err := gzWriter.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

func (a *Archiver) decompress(data []byte, compression CompressionType) ([]byte, error) {
	switch compression {
	case CompressionGzip:
		gzReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gzReader.Close()
		return io.ReadAll(gzReader)
	default:
		return data, nil
	}
}

// generateKey renders the configured path template for an archive id.
func (a *Archiver) generateKey(archiveID string) string {
	now := time.Now().UTC()

	key := a.config.PathTemplate
	key = strings.ReplaceAll(key, "{date}", now.Format("2006/01/02"))
	key = strings.ReplaceAll(key, "{id}", archiveID)
	key = strings.ReplaceAll(key, "{year}", now.Format("2006"))
	key = strings.ReplaceAll(key, "{month}", now.Format("01"))
	key = strings.ReplaceAll(key, "{day}", now.Format("02"))

	return key
}

// ArchiverMetrics contains archiver metrics.
type ArchiverMetrics struct {
	ReportsArchived int64
	BytesArchived   int64
	Errors          int64
}

// GetMetrics returns current archiver metrics.
func (a *Archiver) GetMetrics() ArchiverMetrics {
	return ArchiverMetrics{
		ReportsArchived: a.metrics.reportsArchived.Load(),
		BytesArchived:   a.metrics.bytesArchived.Load(),
		Errors:          a.metrics.errors.Load(),
	}
}

package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/storage"
)

// Result describes where an export was written.
type Result struct {
	Rows      int
	Bytes     int
	LocalPath string
	ObjectKey string
}

// Exporter writes aligned series to the configured destinations.
type Exporter struct {
	dir         string
	compression string
	bucket      string
	prefix      string
	putter      ObjectPutter
	logger      *slog.Logger
	now         func() time.Time
}

// NewExporter builds an exporter from cfg, creating the S3 client when a
// bucket is configured.
func NewExporter(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (*Exporter, error) {
	var putter ObjectPutter
	if cfg.S3.Bucket != "" {
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		putter = client
	}
	return newExporter(cfg, putter, logger), nil
}

func newExporter(cfg config.ExportConfig, putter ObjectPutter, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		dir:         cfg.Dir,
		compression: cfg.Compression,
		bucket:      cfg.S3.Bucket,
		prefix:      cfg.S3.Prefix,
		putter:      putter,
		logger:      logger.With("component", "export"),
		now:         time.Now,
	}
}

// Export encodes series once and writes it to every configured destination.
// Empty series are skipped.
func (e *Exporter) Export(ctx context.Context, key storage.SeriesKey, series *models.AlignedSeries) (*Result, error) {
	result := &Result{Rows: series.Len()}
	if series.Len() == 0 {
		e.logger.WarnContext(ctx, "nothing to export", "series", key.String())
		return result, nil
	}

	data, err := EncodeParquet(key, series, e.compression)
	if err != nil {
		return nil, err
	}
	result.Bytes = len(data)

	objectKey := ObjectKey(e.prefix, key, e.now())

	if e.dir != "" {
		if err := os.MkdirAll(e.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create export dir: %w", err)
		}
		result.LocalPath = filepath.Join(e.dir, filepath.Base(objectKey))
		if err := os.WriteFile(result.LocalPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("write parquet file: %w", err)
		}
	}

	if e.putter != nil && e.bucket != "" {
		if err := upload(ctx, e.putter, e.bucket, objectKey, e.compression, data); err != nil {
			return nil, err
		}
		result.ObjectKey = objectKey
	}

	e.logger.InfoContext(ctx, "series exported",
		"series", key.String(),
		"rows", result.Rows,
		"bytes", result.Bytes,
		"path", result.LocalPath,
		"object_key", result.ObjectKey)
	return result, nil
}

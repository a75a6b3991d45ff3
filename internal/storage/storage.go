// Package storage persists aligned series. A series is keyed by exchange,
// instrument and interval; saving overwrites rows with the same timestamp.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// Backend names accepted in configuration.
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeDuckDB = "duckdb"
)

// SeriesKey identifies one stored series.
type SeriesKey struct {
	Exchange   string `json:"exchange"`
	Instrument string `json:"instrument"`
	Interval   string `json:"interval"`
}

func (k SeriesKey) String() string {
	return k.Exchange + "/" + k.Instrument + "/" + k.Interval
}

// Validate rejects keys with empty parts.
func (k SeriesKey) Validate() error {
	if k.Exchange == "" || k.Instrument == "" || k.Interval == "" {
		return fmt.Errorf("incomplete series key %q", k.String())
	}
	return nil
}

// SeriesStore saves and loads aligned series.
type SeriesStore interface {
	// SaveSeries upserts every row of series under key.
	SaveSeries(ctx context.Context, key SeriesKey, series *models.AlignedSeries) error

	// LoadSeries returns the rows of key with start <= timestamp < end. A
	// zero end means no upper bound. Unknown keys yield an empty series.
	LoadSeries(ctx context.Context, key SeriesKey, start, end time.Time) (*models.AlignedSeries, error)

	Close() error
}

// Open builds the store selected by cfg. The "none" backend returns a nil
// store and no error.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (SeriesStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return nil, nil
	case TypeMemory:
		return NewMemoryStorage(), nil
	case TypeDuckDB:
		store, err := NewDuckDBStorage(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if cfg.QueryTimeout != "" {
			timeout, err := time.ParseDuration(cfg.QueryTimeout)
			if err != nil {
				store.Close()
				return nil, NewStorageError("open", "", "", fmt.Errorf("invalid query_timeout: %w", err))
			}
			store.queryTimeout = timeout
		}
		if err := store.Initialize(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, NewStorageError("open", "", "", fmt.Errorf("unknown storage type %q", cfg.Type))
	}
}

func inRange(t, start, end time.Time) bool {
	if t.Before(start) {
		return false
	}
	return end.IsZero() || t.Before(end)
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Query is the SQL query or operation details (may be empty)
	Query string

	Err error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return NewStorageError("query", table, query, err)
}

// NewInsertError creates a StorageError for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return NewStorageError("insert", table, "", err)
}

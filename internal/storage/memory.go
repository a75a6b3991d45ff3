package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// ErrStorageClosed is returned by a closed MemoryStorage.
var ErrStorageClosed = errors.New("storage is closed")

// MemoryStorage keeps series in process memory. It is safe for concurrent
// use.
type MemoryStorage struct {
	mu sync.RWMutex

	// series[key][unix ms] -> row
	series map[SeriesKey]map[int64]models.AlignedRow
	closed bool
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		series: make(map[SeriesKey]map[int64]models.AlignedRow),
	}
}

// SaveSeries implements SeriesStore.
func (m *MemoryStorage) SaveSeries(ctx context.Context, key SeriesKey, series *models.AlignedSeries) error {
	if err := key.Validate(); err != nil {
		return NewInsertError("aligned_series", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError("aligned_series", ErrStorageClosed)
	}

	rows, ok := m.series[key]
	if !ok {
		rows = make(map[int64]models.AlignedRow, series.Len())
		m.series[key] = rows
	}
	for _, row := range series.Rows() {
		rows[row.Timestamp.UnixMilli()] = row
	}
	return nil
}

// LoadSeries implements SeriesStore.
func (m *MemoryStorage) LoadSeries(ctx context.Context, key SeriesKey, start, end time.Time) (*models.AlignedSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("aligned_series", "", ErrStorageClosed)
	}

	var out []models.AlignedRow
	for _, row := range m.series[key] {
		if inRange(row.Timestamp, start, end) {
			out = append(out, row)
		}
	}
	return models.NewAlignedSeries(out), nil
}

// Keys returns the keys with stored rows.
func (m *MemoryStorage) Keys() []SeriesKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]SeriesKey, 0, len(m.series))
	for k := range m.series {
		keys = append(keys, k)
	}
	return keys
}

// Close implements SeriesStore.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.series = nil
	return nil
}

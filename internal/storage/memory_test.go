package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

var (
	testKey   = SeriesKey{Exchange: "Binance", Instrument: "BTCUSDT", Interval: "1h"}
	testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// createTestSeries builds count hourly rows starting at testStart.
func createTestSeries(count int, basePrice float64) *models.AlignedSeries {
	rows := make([]models.AlignedRow, count)
	for i := range rows {
		price := basePrice + float64(i)*10
		rows[i] = models.AlignedRow{
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 50,
			Low:       price - 50,
			Close:     price + 5,
			Volume:    100 + float64(i),
			OI:        models.LevelValues{Open: 1e9, High: 1.1e9, Low: 0.9e9, Close: 1e9 + float64(i)},
			FR:        models.LevelValues{Open: 0.0001, High: 0.0002, Low: 0.00005, Close: 0.0001},
		}
	}
	return models.NewAlignedSeries(rows)
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	defer store.Close()

	require.NoError(t, store.SaveSeries(ctx, testKey, createTestSeries(24, 42000)))

	loaded, err := store.LoadSeries(ctx, testKey, testStart, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 24, loaded.Len())
	assert.Equal(t, createTestSeries(24, 42000).Rows(), loaded.Rows())
}

func TestMemoryStorageRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.SaveSeries(ctx, testKey, createTestSeries(24, 42000)))

	loaded, err := store.LoadSeries(ctx, testKey, testStart.Add(2*time.Hour), testStart.Add(5*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())
	assert.Equal(t, testStart.Add(2*time.Hour), loaded.At(0).Timestamp)
	assert.Equal(t, testStart.Add(4*time.Hour), loaded.At(2).Timestamp)

	empty, err := store.LoadSeries(ctx, SeriesKey{Exchange: "OKX", Instrument: "BTC-USDT-SWAP", Interval: "1h"}, testStart, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestMemoryStorageOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	require.NoError(t, store.SaveSeries(ctx, testKey, createTestSeries(4, 42000)))
	require.NoError(t, store.SaveSeries(ctx, testKey, createTestSeries(2, 50000)))

	loaded, err := store.LoadSeries(ctx, testKey, testStart, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 4, loaded.Len())
	assert.Equal(t, 50000.0, loaded.At(0).Open)
	assert.Equal(t, 42020.0, loaded.At(2).Open)
	assert.Len(t, store.Keys(), 1)
}

func TestMemoryStorageErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	err := store.SaveSeries(ctx, SeriesKey{Exchange: "Binance"}, createTestSeries(1, 1))
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "insert", storageErr.Operation)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.SaveSeries(ctx, testKey, createTestSeries(1, 1)), ErrStorageClosed)
	_, err = store.LoadSeries(ctx, testKey, testStart, time.Time{})
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.StorageConfig{Type: TypeNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = Open(ctx, config.StorageConfig{Type: TypeMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, store)

	_, err = Open(ctx, config.StorageConfig{Type: "postgres"}, nil)
	assert.Error(t, err)
}

package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

// BenchmarkMemorySaveSeries measures saving a month of hourly rows.
func BenchmarkMemorySaveSeries(b *testing.B) {
	ctx := context.Background()
	store := NewMemoryStorage()
	series := createTestSeries(720, 42000)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := store.SaveSeries(ctx, testKey, series); err != nil {
			b.Fatalf("SaveSeries failed: %v", err)
		}
	}

	b.ReportMetric(float64(b.N*series.Len())/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkDuckDBSaveLoad measures a save followed by a full range load.
func BenchmarkDuckDBSaveLoad(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	ctx := context.Background()
	store, err := NewDuckDBStorage(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		b.Fatalf("failed to open DuckDB: %v", err)
	}
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		b.Fatalf("failed to migrate: %v", err)
	}

	series := createTestSeries(720, 42000)
	ts := series.Timestamps()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := store.SaveSeries(ctx, testKey, series); err != nil {
			b.Fatalf("SaveSeries failed: %v", err)
		}
		loaded, err := store.LoadSeries(ctx, testKey, ts[0], ts[len(ts)-1].Add(time.Hour))
		if err != nil {
			b.Fatalf("LoadSeries failed: %v", err)
		}
		if loaded.Len() != series.Len() {
			b.Fatalf("loaded %d rows, want %d", loaded.Len(), series.Len())
		}
	}
}

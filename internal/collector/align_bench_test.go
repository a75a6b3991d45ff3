package collector

import (
	"testing"

	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// BenchmarkAlign joins a year of hourly rows.
func BenchmarkAlign(b *testing.B) {
	const hours = 24 * 365

	candles := make([]models.Candle, hours)
	oi := &models.LevelSeries{Kind: models.OpenInterest, Records: make([]models.LevelRecord, hours)}
	fr := &models.LevelSeries{Kind: models.FundingRate, Records: make([]models.LevelRecord, hours)}
	for h := 0; h < hours; h++ {
		candles[h] = hourCandle(h, float64(h))
		oi.Records[h] = hourLevel(h, 1e9)
		fr.Records[h] = hourLevel(h, 0.0001)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if got := Align(candles, oi, fr); got.Len() != hours {
			b.Fatalf("aligned %d rows, want %d", got.Len(), hours)
		}
	}
}

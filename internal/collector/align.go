package collector

import (
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// Align inner-joins candles with the open interest and funding rate series
// on timestamp. A timestamp is kept only when all three sources have it and
// none of its values is NaN. Within one source the first row of a timestamp
// wins. The result is ascending and indexed by timestamp.
func Align(candles []models.Candle, oi, fr *models.LevelSeries) *models.AlignedSeries {
	oiByTime := levelIndex(oi)
	frByTime := levelIndex(fr)

	seen := make(map[int64]bool, len(candles))
	rows := make([]models.AlignedRow, 0, len(candles))
	for _, c := range candles {
		key := c.Timestamp.UnixMilli()
		if seen[key] {
			continue
		}
		seen[key] = true

		o, ok := oiByTime[key]
		if !ok {
			continue
		}
		f, ok := frByTime[key]
		if !ok {
			continue
		}
		if c.HasNaN() || o.HasNaN() || f.HasNaN() {
			continue
		}

		rows = append(rows, models.AlignedRow{
			Timestamp: c.Timestamp.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			OI:        levelValues(o),
			FR:        levelValues(f),
		})
	}
	return models.NewAlignedSeries(rows)
}

func levelIndex(s *models.LevelSeries) map[int64]models.LevelRecord {
	if s == nil {
		return map[int64]models.LevelRecord{}
	}
	idx := make(map[int64]models.LevelRecord, len(s.Records))
	for _, r := range s.Records {
		key := r.Timestamp.UnixMilli()
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = r
	}
	return idx
}

func levelValues(r models.LevelRecord) models.LevelValues {
	return models.LevelValues{Open: r.Open, High: r.High, Low: r.Low, Close: r.Close}
}

package models

import (
	"sort"
	"time"
)

// LevelValues holds the OHLC values one level series contributes to a row.
type LevelValues struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// AlignedRow is one timestamp of an aligned series. Every field is
// populated; rows with missing values never reach a series.
type AlignedRow struct {
	Timestamp time.Time   `json:"timestamp"`
	Open      float64     `json:"open"`
	High      float64     `json:"high"`
	Low       float64     `json:"low"`
	Close     float64     `json:"close"`
	Volume    float64     `json:"volume"`
	OI        LevelValues `json:"oi"`
	FR        LevelValues `json:"fr"`
}

// Values returns the row in Columns order.
func (r AlignedRow) Values() []float64 {
	return []float64{
		r.Open, r.High, r.Low, r.Close, r.Volume,
		r.OI.Open, r.OI.High, r.OI.Low, r.OI.Close,
		r.FR.Open, r.FR.High, r.FR.Low, r.FR.Close,
	}
}

// AlignedSeries is an ordered map from timestamp to AlignedRow. Rows are
// kept in ascending timestamp order and indexed by epoch milliseconds.
type AlignedSeries struct {
	rows  []AlignedRow
	index map[int64]int
}

// NewAlignedSeries sorts rows by timestamp and indexes them. When two rows
// share a timestamp the first one wins.
func NewAlignedSeries(rows []AlignedRow) *AlignedSeries {
	sorted := make([]AlignedRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s := &AlignedSeries{
		rows:  make([]AlignedRow, 0, len(sorted)),
		index: make(map[int64]int, len(sorted)),
	}
	for _, row := range sorted {
		key := row.Timestamp.UnixMilli()
		if _, dup := s.index[key]; dup {
			continue
		}
		row.Timestamp = row.Timestamp.UTC()
		s.index[key] = len(s.rows)
		s.rows = append(s.rows, row)
	}
	return s
}

func (s *AlignedSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

// Rows returns a copy of the rows in ascending timestamp order.
func (s *AlignedSeries) Rows() []AlignedRow {
	if s == nil {
		return nil
	}
	out := make([]AlignedRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// At returns the i-th row in timestamp order.
func (s *AlignedSeries) At(i int) AlignedRow {
	return s.rows[i]
}

// Lookup returns the row at timestamp t.
func (s *AlignedSeries) Lookup(t time.Time) (AlignedRow, bool) {
	if s == nil {
		return AlignedRow{}, false
	}
	i, ok := s.index[t.UnixMilli()]
	if !ok {
		return AlignedRow{}, false
	}
	return s.rows[i], true
}

// Timestamps returns the row keys in ascending order.
func (s *AlignedSeries) Timestamps() []time.Time {
	if s == nil {
		return nil
	}
	out := make([]time.Time, len(s.rows))
	for i, row := range s.rows {
		out[i] = row.Timestamp
	}
	return out
}

// Columns returns the column names: candle columns, then OI, then FR.
func (s *AlignedSeries) Columns() []string {
	return AlignedColumns()
}

// AlignedColumns returns the column names of every aligned series.
func AlignedColumns() []string {
	cols := make([]string, 0, 13)
	cols = append(cols, CandleColumns...)
	cols = append(cols, LevelColumns(OpenInterest)...)
	cols = append(cols, LevelColumns(FundingRate)...)
	return cols
}

package models

import (
	"math"
	"time"
)

// LevelKind identifies a derivatives level series.
type LevelKind int

const (
	OpenInterest LevelKind = iota
	FundingRate
)

// Prefix is the column prefix used for the kind in an aligned series.
func (k LevelKind) Prefix() string {
	if k == FundingRate {
		return "FR"
	}
	return "OI"
}

// Endpoint is the CoinGlass history path segment for the kind.
func (k LevelKind) Endpoint() string {
	if k == FundingRate {
		return "fundingRate"
	}
	return "openInterest"
}

func (k LevelKind) String() string {
	if k == FundingRate {
		return "funding_rate"
	}
	return "open_interest"
}

// RawLevel is one point of a metadata history page. Time is epoch seconds;
// null values are NaN.
type RawLevel struct {
	Time  int64
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// LevelRecord is an OHLC point of an open interest or funding rate series.
type LevelRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

func (r LevelRecord) HasNaN() bool {
	return math.IsNaN(r.Open) || math.IsNaN(r.High) || math.IsNaN(r.Low) || math.IsNaN(r.Close)
}

// LevelSeries is the ordered output of one level fetch.
type LevelSeries struct {
	Kind    LevelKind
	Records []LevelRecord
}

func (s *LevelSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Columns returns the prefixed column names, e.g. "OI Open".
func (s *LevelSeries) Columns() []string {
	return LevelColumns(s.Kind)
}

// LevelColumns returns the prefixed OHLC column names of kind.
func LevelColumns(kind LevelKind) []string {
	p := kind.Prefix()
	return []string{p + " Open", p + " High", p + " Low", p + " Close"}
}

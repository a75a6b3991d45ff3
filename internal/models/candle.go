// Package models provides the data structures shared by the collector:
// interval tokens, date windows, candle and level records, and the aligned
// series produced by joining them.
package models

import (
	"fmt"
	"math"
	"time"
)

// RawCandle is one row of an exchange candle page. OpenTime is epoch
// milliseconds; numbers the exchange omitted are NaN.
type RawCandle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Candle is a normalized OHLCV record keyed by its UTC bucket start.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// CandleColumns are the candle column names of an aligned series.
var CandleColumns = []string{"Open", "High", "Low", "Close", "Volume"}

// ValidationError describes a record that failed a sanity check.
type ValidationError struct {
	Field   string // Field is the column that failed
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// HasNaN reports whether any numeric column is missing.
func (c Candle) HasNaN() bool {
	return math.IsNaN(c.Open) || math.IsNaN(c.High) || math.IsNaN(c.Low) ||
		math.IsNaN(c.Close) || math.IsNaN(c.Volume)
}

// Validate checks the OHLC relationships of a complete candle: prices are
// positive, volume is non-negative, high >= max(open, close) and
// low <= min(open, close). Candles with missing values are not checked.
func (c Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}
	if c.HasNaN() {
		return nil
	}

	for _, p := range []struct {
		field string
		value float64
	}{{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}} {
		if p.value <= 0 {
			return &ValidationError{Field: p.field, Message: fmt.Sprintf("%s price must be greater than 0", p.field)}
		}
	}

	if c.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	if maxOC := math.Max(c.Open, c.Close); c.High < maxOC {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%g) must be greater than or equal to max(open, close) (%g)", c.High, maxOC),
		}
	}

	if minOC := math.Min(c.Open, c.Close); c.Low > minOC {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%g) must be less than or equal to min(open, close) (%g)", c.Low, minOC),
		}
	}

	return nil
}

// FloorToDay truncates t to midnight UTC.
func FloorToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

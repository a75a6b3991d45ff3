package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
)

// IntervalUnit is the trailing unit letter of an interval token.
type IntervalUnit byte

const (
	UnitMinute IntervalUnit = 'm'
	UnitHour   IntervalUnit = 'h'
	UnitDay    IntervalUnit = 'd'
	UnitWeek   IntervalUnit = 'w'
)

var unitSeconds = map[IntervalUnit]int64{
	UnitMinute: 60,
	UnitHour:   3600,
	UnitDay:    86400,
	UnitWeek:   604800,
}

// Interval is a parsed granularity token such as "15m", "4h" or "1d".
// The same token is passed verbatim to exchanges and to CoinGlass; the
// parsed duration drives cursor arithmetic.
type Interval struct {
	Token   string
	Count   int64
	Unit    IntervalUnit
	seconds int64
}

// Codec converts interval tokens into durations.
//
// CollapseCalendarUnits reproduces the historic behaviour where any day or
// week token resolves to a single day or week regardless of its numeric
// prefix ("3d" == "1d"). It exists for compatibility with series collected
// by older tooling and is off by default.
type Codec struct {
	CollapseCalendarUnits bool
}

// DefaultCodec multiplies the numeric prefix for every unit.
var DefaultCodec = Codec{}

// Parse validates a token and resolves its duration.
func (c Codec) Parse(token string) (Interval, error) {
	token = strings.TrimSpace(token)
	if len(token) < 2 {
		return Interval{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, token)
	}

	unit := IntervalUnit(token[len(token)-1])
	base, ok := unitSeconds[unit]
	if !ok {
		return Interval{}, fmt.Errorf("%w: unknown unit in %q", apperrors.ErrInvalidInterval, token)
	}

	count, err := strconv.ParseInt(token[:len(token)-1], 10, 64)
	if err != nil || count <= 0 {
		return Interval{}, fmt.Errorf("%w: numeric prefix of %q must be a positive integer", apperrors.ErrInvalidInterval, token)
	}

	seconds := base * count
	if c.CollapseCalendarUnits && (unit == UnitDay || unit == UnitWeek) {
		seconds = base
	}

	return Interval{Token: token, Count: count, Unit: unit, seconds: seconds}, nil
}

// DurationSeconds returns the duration of token in seconds.
func (c Codec) DurationSeconds(token string) (int64, error) {
	iv, err := c.Parse(token)
	if err != nil {
		return 0, err
	}
	return iv.Seconds(), nil
}

// ParseInterval parses token with DefaultCodec.
func ParseInterval(token string) (Interval, error) {
	return DefaultCodec.Parse(token)
}

// DurationSeconds returns the duration of token in seconds using DefaultCodec.
func DurationSeconds(token string) (int64, error) {
	return DefaultCodec.DurationSeconds(token)
}

func (i Interval) Seconds() int64 { return i.seconds }

func (i Interval) Milliseconds() int64 { return i.seconds * 1000 }

func (i Interval) Duration() time.Duration { return time.Duration(i.seconds) * time.Second }

// Calendar reports whether the interval is expressed in days or weeks.
// Timestamps of calendar intervals are floored to midnight UTC.
func (i Interval) Calendar() bool {
	return i.Unit == UnitDay || i.Unit == UnitWeek
}

func (i Interval) String() string { return i.Token }

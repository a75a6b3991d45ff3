package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
)

// DateLayout is the day-first date format accepted by every public entry point.
const DateLayout = "02.01.2006"

// TimeWindow is a closed UTC range built from two calendar dates.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// ParseDate parses a DD.MM.YYYY date at midnight UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not DD.MM.YYYY", apperrors.ErrInvalidDate, value)
	}
	return t, nil
}

// NewTimeWindow parses both bounds. An end before the start is rejected.
func NewTimeWindow(start, end string) (TimeWindow, error) {
	s, err := ParseDate(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return TimeWindow{}, err
	}
	if e.Before(s) {
		return TimeWindow{}, fmt.Errorf("%w: end %s is before start %s", apperrors.ErrInvalidDate, end, start)
	}
	return TimeWindow{Start: s, End: e}, nil
}

func (w TimeWindow) StartMillis() int64 { return w.Start.UnixMilli() }

func (w TimeWindow) EndMillis() int64 { return w.End.UnixMilli() }

func (w TimeWindow) StartSeconds() int64 { return w.Start.Unix() }

func (w TimeWindow) EndSeconds() int64 { return w.End.Unix() }

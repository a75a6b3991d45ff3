package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
)

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		token string
		want  int64
	}{
		{"1m", 60},
		{"15m", 900},
		{"2h", 7200},
		{"1d", 86400},
		{"3d", 259200},
		{"1w", 604800},
		{"2w", 1209600},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := DurationSeconds(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodec_CollapseCalendarUnits(t *testing.T) {
	legacy := Codec{CollapseCalendarUnits: true}

	tests := []struct {
		token string
		want  int64
	}{
		{"15m", 900},
		{"2h", 7200},
		{"1d", 86400},
		{"3d", 86400},
		{"1w", 604800},
		{"4w", 604800},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := legacy.DurationSeconds(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	for _, token := range []string{"", "m", "5x", "0h", "-1d", "1.5h", "abc", "1M"} {
		t.Run(token, func(t *testing.T) {
			_, err := ParseInterval(token)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInterval)

			_, err = Codec{CollapseCalendarUnits: true}.Parse(token)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInterval)
		})
	}
}

func TestInterval_Accessors(t *testing.T) {
	iv, err := ParseInterval("4h")
	require.NoError(t, err)

	assert.Equal(t, int64(14400), iv.Seconds())
	assert.Equal(t, int64(14400000), iv.Milliseconds())
	assert.Equal(t, 4*time.Hour, iv.Duration())
	assert.False(t, iv.Calendar())
	assert.Equal(t, "4h", iv.String())

	day, err := ParseInterval("1d")
	require.NoError(t, err)
	assert.True(t, day.Calendar())
}

func TestNewTimeWindow(t *testing.T) {
	w, err := NewTimeWindow("01.01.2024", "02.01.2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, int64(1704067200000), w.StartMillis())
	assert.Equal(t, int64(1704153600), w.EndSeconds())

	same, err := NewTimeWindow("05.05.2024", "05.05.2024")
	require.NoError(t, err)
	assert.Equal(t, same.Start, same.End)

	_, err = NewTimeWindow("02.01.2024", "01.01.2024")
	assert.ErrorIs(t, err, apperrors.ErrInvalidDate)

	_, err = NewTimeWindow("2024-01-01", "02.01.2024")
	assert.ErrorIs(t, err, apperrors.ErrInvalidDate)

	_, err = ParseDate("31.02.2024")
	assert.ErrorIs(t, err, apperrors.ErrInvalidDate)
}

package gaps

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hours(offsets ...int) []time.Time {
	out := make([]time.Time, len(offsets))
	for i, h := range offsets {
		out[i] = base.Add(time.Duration(h) * time.Hour)
	}
	return out
}

func newTestDetector() *Detector {
	return NewDetector(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDetectInSequence(t *testing.T) {
	d := newTestDetector()

	t.Run("continuous", func(t *testing.T) {
		report := d.DetectInSequence("aligned", hours(0, 1, 2, 3), time.Hour)
		assert.False(t, report.HasGaps())
		assert.Equal(t, 4, report.Expected)
		assert.Equal(t, 1.0, report.Coverage())
	})

	t.Run("holes", func(t *testing.T) {
		report := d.DetectInSequence("aligned", hours(5, 0, 1, 3), time.Hour)
		require.Len(t, report.Gaps, 2)

		assert.Equal(t, base.Add(2*time.Hour), report.Gaps[0].StartTime)
		assert.Equal(t, base.Add(3*time.Hour), report.Gaps[0].EndTime)
		assert.Equal(t, 1, report.Gaps[0].Missing)

		assert.Equal(t, base.Add(4*time.Hour), report.Gaps[1].StartTime)
		assert.Equal(t, 1, report.Gaps[1].Missing)

		assert.Equal(t, 6, report.Expected)
		assert.Equal(t, 2, report.MissingSteps())
	})

	t.Run("empty", func(t *testing.T) {
		report := d.DetectInSequence("aligned", nil, time.Hour)
		assert.False(t, report.HasGaps())
		assert.Zero(t, report.Expected)
	})
}

func TestDetectInRange(t *testing.T) {
	d := newTestDetector()
	end := base.Add(10 * time.Hour)

	report := d.DetectInRange("aligned", hours(2, 3, 4, 9, 12), time.Hour, base, end)

	assert.Equal(t, 10, report.Expected)
	assert.Equal(t, 4, report.Present)
	require.Len(t, report.Gaps, 2)

	assert.Equal(t, base, report.Gaps[0].StartTime)
	assert.Equal(t, base.Add(2*time.Hour), report.Gaps[0].EndTime)
	assert.Equal(t, 2, report.Gaps[0].Missing)

	assert.Equal(t, base.Add(5*time.Hour), report.Gaps[1].StartTime)
	assert.Equal(t, base.Add(9*time.Hour), report.Gaps[1].EndTime)
	assert.Equal(t, 4, report.Gaps[1].Missing)

	assert.Equal(t, 6, report.MissingSteps())
	assert.InDelta(t, 0.4, report.Coverage(), 1e-9)
}

func TestDetectInRangeTrailingGap(t *testing.T) {
	report := newTestDetector().DetectInRange("aligned", hours(0, 1), time.Hour, base, base.Add(4*time.Hour))

	require.Len(t, report.Gaps, 1)
	assert.Equal(t, base.Add(2*time.Hour), report.Gaps[0].StartTime)
	assert.Equal(t, base.Add(4*time.Hour), report.Gaps[0].EndTime)
	assert.Equal(t, 4, report.Expected)
}

func TestGapPriority(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     Priority
	}{
		{time.Hour, PriorityLow},
		{2 * time.Hour, PriorityMedium},
		{7 * time.Hour, PriorityHigh},
		{48 * time.Hour, PriorityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			g := newGap("s", base, base.Add(tt.duration), time.Hour)
			assert.Equal(t, tt.want, g.Priority)
			assert.Equal(t, tt.duration, g.Duration())
		})
	}
}

func TestGapIDsAreUnique(t *testing.T) {
	a := generateGapID("Binance/BTCUSDT", base, base.Add(time.Hour))
	b := generateGapID("Binance/BTCUSDT", base, base.Add(time.Hour))

	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "/")
}

func TestLogDoesNotPanicOnNil(t *testing.T) {
	d := newTestDetector()
	d.Log(context.Background(), nil)
	d.Log(context.Background(), d.DetectInSequence("aligned", hours(0, 2), time.Hour))
}

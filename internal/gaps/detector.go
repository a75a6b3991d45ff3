package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Detector finds missing steps in timestamp sequences.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger.With("component", "gap_detector")}
}

// DetectInSequence reports the holes between consecutive timestamps. Steps
// before the first and after the last timestamp are not considered.
func (d *Detector) DetectInSequence(series string, timestamps []time.Time, step time.Duration) *Report {
	report := &Report{Series: series, Step: step, Present: len(timestamps)}
	if len(timestamps) == 0 || step <= 0 {
		return report
	}

	sorted := sortedCopy(timestamps)
	first, last := sorted[0], sorted[len(sorted)-1]
	report.Expected = int(last.Sub(first)/step) + 1

	for i := 0; i < len(sorted)-1; i++ {
		expectedNext := sorted[i].Add(step)
		if sorted[i+1].After(expectedNext) {
			report.Gaps = append(report.Gaps, newGap(series, expectedNext, sorted[i+1], step))
		}
	}
	return report
}

// DetectInRange reports every step of [start, end) without a timestamp.
func (d *Detector) DetectInRange(series string, timestamps []time.Time, step time.Duration, start, end time.Time) *Report {
	report := &Report{Series: series, Step: step}
	if step <= 0 || !end.After(start) {
		return report
	}

	existing := make(map[int64]bool, len(timestamps))
	for _, ts := range timestamps {
		if !ts.Before(start) && ts.Before(end) {
			existing[ts.UnixMilli()] = true
		}
	}
	report.Present = len(existing)

	current := start
	for current.Before(end) {
		report.Expected++
		if existing[current.UnixMilli()] {
			current = current.Add(step)
			continue
		}

		gapStart := current
		gapEnd := current.Add(step)
		for gapEnd.Before(end) && !existing[gapEnd.UnixMilli()] {
			gapEnd = gapEnd.Add(step)
			report.Expected++
		}
		report.Gaps = append(report.Gaps, newGap(series, gapStart, gapEnd, step))
		current = gapEnd
	}
	return report
}

// Log writes a summary line and one line per gap. Reports without gaps are
// logged at DEBUG.
func (d *Detector) Log(ctx context.Context, report *Report) {
	if report == nil {
		return
	}
	if !report.HasGaps() {
		d.logger.DebugContext(ctx, "no gaps detected",
			"series", report.Series,
			"expected", report.Expected,
			"present", report.Present)
		return
	}

	d.logger.WarnContext(ctx, "gaps detected",
		"series", report.Series,
		"gaps", len(report.Gaps),
		"missing_steps", report.MissingSteps(),
		"coverage", report.Coverage())

	for _, g := range report.Gaps {
		d.logger.InfoContext(ctx, "gap",
			"gap_id", g.ID,
			"start", g.StartTime,
			"end", g.EndTime,
			"missing", g.Missing,
			"priority", g.Priority.String())
	}
}

func newGap(series string, start, end time.Time, step time.Duration) Gap {
	missing := int(end.Sub(start) / step)
	if missing < 1 {
		missing = 1
	}
	return Gap{
		ID:        generateGapID(series, start, end),
		Series:    series,
		StartTime: start,
		EndTime:   end,
		Step:      step,
		Missing:   missing,
		Priority:  priorityOf(end.Sub(start)),
	}
}

func sortedCopy(timestamps []time.Time) []time.Time {
	out := make([]time.Time, len(timestamps))
	copy(out, timestamps)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// generateGapID creates a unique identifier for a gap.
func generateGapID(series string, start, end time.Time) string {
	id := fmt.Sprintf("%s_%d_%d_%s", series, start.Unix(), end.Unix(), uuid.New().String()[:8])
	id = strings.ReplaceAll(id, "/", "-")
	return strings.ReplaceAll(id, " ", "_")
}

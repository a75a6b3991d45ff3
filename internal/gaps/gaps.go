// Package gaps reports missing interval steps in a fetched series. The
// collector logs the report after alignment; nothing is backfilled.
package gaps

import (
	"fmt"
	"time"
)

// Priority ranks a gap by how much data it covers.
type Priority int

const (
	PriorityLow      Priority = iota // at most one hour missing
	PriorityMedium                   // more than one hour
	PriorityHigh                     // more than six hours
	PriorityCritical                 // more than a day
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Gap is a run of consecutive missing steps, [StartTime, EndTime).
type Gap struct {
	ID        string        `json:"id"`
	Series    string        `json:"series"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Step      time.Duration `json:"step"`
	Missing   int           `json:"missing"`
	Priority  Priority      `json:"priority"`
}

// Duration returns the time span covered by the gap.
func (g Gap) Duration() time.Duration {
	return g.EndTime.Sub(g.StartTime)
}

// Report is the result of one detection run.
type Report struct {
	Series   string        `json:"series"`
	Step     time.Duration `json:"step"`
	Expected int           `json:"expected"`
	Present  int           `json:"present"`
	Gaps     []Gap         `json:"gaps"`
}

// MissingSteps sums the missing steps of every gap.
func (r *Report) MissingSteps() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, g := range r.Gaps {
		n += g.Missing
	}
	return n
}

// Coverage is the share of expected steps present, in [0, 1]. An empty
// expectation counts as full coverage.
func (r *Report) Coverage() float64 {
	if r == nil || r.Expected == 0 {
		return 1
	}
	return float64(r.Expected-r.MissingSteps()) / float64(r.Expected)
}

// HasGaps reports whether any step is missing.
func (r *Report) HasGaps() bool {
	return r != nil && len(r.Gaps) > 0
}

// priorityOf ranks a gap by its duration.
func priorityOf(d time.Duration) Priority {
	switch {
	case d > 24*time.Hour:
		return PriorityCritical
	case d > 6*time.Hour:
		return PriorityHigh
	case d > time.Hour:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Package metrics keeps in-process fetch counters per series. Counters are
// atomic; snapshots are plain values safe to hand to callers.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Series names used by the collector.
const (
	SeriesCandles      = "candles"
	SeriesOpenInterest = "open_interest"
	SeriesFundingRate  = "funding_rate"
)

// SeriesMetrics are the live counters of one series.
type SeriesMetrics struct {
	pages    atomic.Int64
	records  atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
	duration atomic.Int64 // nanoseconds spent in completed fetches
}

// SeriesSnapshot is a point-in-time copy of SeriesMetrics.
type SeriesSnapshot struct {
	Series   string        `json:"series"`
	Pages    int64         `json:"pages"`
	Records  int64         `json:"records"`
	Retries  int64         `json:"retries"`
	Failures int64         `json:"failures"`
	Duration time.Duration `json:"duration"`
}

// MetricsSnapshot is a snapshot of every series.
type MetricsSnapshot struct {
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    time.Duration             `json:"uptime"`
	Series    map[string]SeriesSnapshot `json:"series"`
}

// Get returns the snapshot of one series; unknown series are zero.
func (s MetricsSnapshot) Get(series string) SeriesSnapshot {
	if snap, ok := s.Series[series]; ok {
		return snap
	}
	return SeriesSnapshot{Series: series}
}

// Totals sums every series.
func (s MetricsSnapshot) Totals() SeriesSnapshot {
	total := SeriesSnapshot{Series: "total"}
	for _, snap := range s.Series {
		total.Pages += snap.Pages
		total.Records += snap.Records
		total.Retries += snap.Retries
		total.Failures += snap.Failures
		total.Duration += snap.Duration
	}
	return total
}

// MetricsCollector owns the counters of every series it has seen.
type MetricsCollector struct {
	mu        sync.RWMutex
	series    map[string]*SeriesMetrics
	startTime time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:    make(map[string]*SeriesMetrics),
		startTime: time.Now(),
	}
}

func (mc *MetricsCollector) get(series string) *SeriesMetrics {
	mc.mu.RLock()
	m, ok := mc.series[series]
	mc.mu.RUnlock()
	if ok {
		return m
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if m, ok = mc.series[series]; !ok {
		m = &SeriesMetrics{}
		mc.series[series] = m
	}
	return m
}

// RecordPage counts one fetched page and its rows.
func (mc *MetricsCollector) RecordPage(series string, records int) {
	m := mc.get(series)
	m.pages.Add(1)
	m.records.Add(int64(records))
}

// RecordRetry counts one retried request.
func (mc *MetricsCollector) RecordRetry(series string) {
	mc.get(series).retries.Add(1)
}

// RecordFailure counts one fetch that ended in an error.
func (mc *MetricsCollector) RecordFailure(series string) {
	mc.get(series).failures.Add(1)
}

// RecordDuration adds the wall time of a completed fetch.
func (mc *MetricsCollector) RecordDuration(series string, d time.Duration) {
	mc.get(series).duration.Add(int64(d))
}

// GetSnapshot returns a copy of all counters.
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := MetricsSnapshot{
		Timestamp: time.Now(),
		Uptime:    time.Since(mc.startTime),
		Series:    make(map[string]SeriesSnapshot, len(mc.series)),
	}
	for name, m := range mc.series {
		out.Series[name] = SeriesSnapshot{
			Series:   name,
			Pages:    m.pages.Load(),
			Records:  m.records.Load(),
			Retries:  m.retries.Load(),
			Failures: m.failures.Load(),
			Duration: time.Duration(m.duration.Load()),
		}
	}
	return out
}

// LogSnapshot writes one INFO line per series, in name order.
func (mc *MetricsCollector) LogSnapshot(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	snap := mc.GetSnapshot()

	names := make([]string, 0, len(snap.Series))
	for name := range snap.Series {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := snap.Series[name]
		logger.InfoContext(ctx, "fetch metrics",
			"series", name,
			"pages", s.Pages,
			"records", s.Records,
			"retries", s.Retries,
			"failures", s.Failures,
			"duration", s.Duration)
	}
}

package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// IssueKind names the check a candle failed.
type IssueKind string

const (
	IssueLogic       IssueKind = "logic_error"
	IssuePriceSpike  IssueKind = "price_spike"
	IssueVolumeSurge IssueKind = "volume_surge"
	IssueSequence    IssueKind = "sequence"
)

// CandleIssue is one sanity problem found in a fetched candle.
type CandleIssue struct {
	Index   int           `json:"index"`
	Kind    IssueKind     `json:"kind"`
	Candle  models.Candle `json:"candle"`
	Message string        `json:"message"`
}

// CandleReport summarises one Check run.
type CandleReport struct {
	Checked int           `json:"checked"`
	Skipped int           `json:"skipped"` // candles with missing values
	Issues  []CandleIssue `json:"issues"`
}

// HasIssues reports whether any check failed.
func (r *CandleReport) HasIssues() bool {
	return r != nil && len(r.Issues) > 0
}

// CandleChecker runs OHLC relationship and cross-candle checks. Problems are
// reported and logged, never returned as errors.
type CandleChecker struct {
	priceSpike  decimal.Decimal
	volumeSurge decimal.Decimal
	logger      *slog.Logger
}

// NewCandleChecker creates a checker with the default thresholds: a close
// moving more than 500% between consecutive candles is a price spike, and a
// volume ten times the previous one is a surge.
func NewCandleChecker(logger *slog.Logger) *CandleChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandleChecker{
		priceSpike:  decimal.NewFromFloat(5.0),
		volumeSurge: decimal.NewFromFloat(10.0),
		logger:      logger.With("component", "candle_checker"),
	}
}

// WithThresholds returns a copy of the checker using the given multipliers.
// Non-positive values keep the current threshold.
func (c *CandleChecker) WithThresholds(priceSpike, volumeSurge float64) *CandleChecker {
	cp := *c
	if priceSpike > 0 {
		cp.priceSpike = decimal.NewFromFloat(priceSpike)
	}
	if volumeSurge > 0 {
		cp.volumeSurge = decimal.NewFromFloat(volumeSurge)
	}
	return &cp
}

// Check validates candles in order and logs every issue at WARN.
func (c *CandleChecker) Check(ctx context.Context, candles []models.Candle) *CandleReport {
	report := &CandleReport{}
	var prev *models.Candle

	for i := range candles {
		candle := candles[i]
		if candle.HasNaN() || !finite(candle) {
			report.Skipped++
			continue
		}
		report.Checked++

		if err := candle.Validate(); err != nil {
			var verr *models.ValidationError
			msg := err.Error()
			if errors.As(err, &verr) {
				msg = verr.Message
			}
			report.Issues = append(report.Issues, CandleIssue{Index: i, Kind: IssueLogic, Candle: candle, Message: msg})
		}

		if prev != nil {
			report.Issues = append(report.Issues, c.crossCandle(i, *prev, candle)...)
		}
		prev = &candles[i]
	}

	for _, issue := range report.Issues {
		c.logger.WarnContext(ctx, "candle sanity check failed",
			"kind", issue.Kind,
			"timestamp", issue.Candle.Timestamp,
			"message", issue.Message,
		)
	}
	if report.HasIssues() {
		c.logger.InfoContext(ctx, "candle sanity summary",
			"checked", report.Checked,
			"skipped", report.Skipped,
			"issues", len(report.Issues),
		)
	}

	return report
}

func (c *CandleChecker) crossCandle(i int, prev, cur models.Candle) []CandleIssue {
	var issues []CandleIssue

	if !cur.Timestamp.After(prev.Timestamp) {
		issues = append(issues, CandleIssue{
			Index:   i,
			Kind:    IssueSequence,
			Candle:  cur,
			Message: fmt.Sprintf("timestamp %s does not follow %s", cur.Timestamp, prev.Timestamp),
		})
	}

	if prev.Close > 0 {
		prevClose := decimal.NewFromFloat(prev.Close)
		change := decimal.NewFromFloat(cur.Close).Sub(prevClose).Abs().Div(prevClose)
		if change.GreaterThan(c.priceSpike) {
			issues = append(issues, CandleIssue{
				Index:   i,
				Kind:    IssuePriceSpike,
				Candle:  cur,
				Message: fmt.Sprintf("close moved %s%% from previous candle", change.Mul(decimal.NewFromInt(100)).StringFixed(0)),
			})
		}
	}

	if prev.Volume > 0 {
		ratio := decimal.NewFromFloat(cur.Volume).Div(decimal.NewFromFloat(prev.Volume))
		if ratio.GreaterThan(c.volumeSurge) {
			issues = append(issues, CandleIssue{
				Index:   i,
				Kind:    IssueVolumeSurge,
				Candle:  cur,
				Message: fmt.Sprintf("volume is %sx the previous candle", ratio.StringFixed(1)),
			})
		}
	}

	return issues
}

func finite(c models.Candle) bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

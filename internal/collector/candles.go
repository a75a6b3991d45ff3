package collector

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/exchange"
	"github.com/johnayoung/go-derivs-collector/internal/metrics"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/validator"
)

// CandleFetcher pages through an exchange's candle history.
type CandleFetcher struct {
	policy    apperrors.RetryPolicy
	sleep     apperrors.SleepFunc
	pageLimit int
	checker   *validator.CandleChecker
	metrics   *metrics.MetricsCollector
	errs      *apperrors.ErrorClassifier
	logger    *slog.Logger
}

// FetchCandles returns the candles of symbol with window.Start <= open time
// < window.End, ascending. Retryable page failures are held and re-issued
// per the retry policy; anything else aborts the fetch and returns no rows.
// Day and week candles are floored to midnight UTC.
func (f *CandleFetcher) FetchCandles(ctx context.Context, conn exchange.Connector, symbol string,
	interval models.Interval, window models.TimeWindow, params map[string]string) ([]models.Candle, error) {
	started := time.Now()
	endMs := window.EndMillis()

	var raw []models.RawCandle
	p := &Paginator{
		Step:      interval.Milliseconds(),
		Stride:    StrideCount,
		Retrier:   f.retrier(metrics.SeriesCandles),
		Component: conn.ID(),
		Operation: "fetch_ohlcv",
		OnPage: func(cursor int64, page Page) {
			f.metrics.RecordPage(metrics.SeriesCandles, page.Count)
			f.logger.DebugContext(ctx, "candle page fetched",
				"exchange", conn.ID(),
				"symbol", symbol,
				"since", cursor,
				"rows", page.Count)
		},
	}

	err := p.Walk(ctx, window.StartMillis(), endMs, func(ctx context.Context, cursor int64) (Page, error) {
		rows, err := conn.FetchOHLCV(ctx, exchange.CandleRequest{
			Symbol:   symbol,
			Interval: interval,
			Since:    cursor,
			Limit:    f.pageLimit,
			Params:   params,
		})
		if err != nil {
			return Page{}, err
		}
		raw = append(raw, rows...)

		page := Page{Count: len(rows)}
		if len(rows) > 0 {
			page.Last = rows[len(rows)-1].OpenTime
		}
		return page, nil
	})
	if err != nil {
		f.metrics.RecordFailure(metrics.SeriesCandles)
		return nil, err
	}

	candles := toCandles(raw, endMs, interval.Calendar())
	f.metrics.RecordDuration(metrics.SeriesCandles, time.Since(started))

	if f.checker != nil {
		f.checker.Check(ctx, candles)
	}

	f.logger.InfoContext(ctx, "candles fetched",
		"exchange", conn.ID(),
		"symbol", symbol,
		"interval", interval.Token,
		"rows", len(candles),
		"duration", time.Since(started))
	return candles, nil
}

func (f *CandleFetcher) retrier(series string) *apperrors.Retrier {
	return newSeriesRetrier(f.policy, f.sleep, f.metrics, f.errs, series, f.logger)
}

// toCandles drops rows opening at or after endMs and converts the rest to
// UTC candles.
func toCandles(raw []models.RawCandle, endMs int64, floorToDay bool) []models.Candle {
	out := make([]models.Candle, 0, len(raw))
	for _, r := range raw {
		if r.OpenTime >= endMs {
			continue
		}
		ts := time.UnixMilli(r.OpenTime).UTC()
		if floorToDay {
			ts = models.FloorToDay(ts)
		}
		out = append(out, models.Candle{
			Timestamp: ts,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out
}

// newSeriesRetrier builds a retrier that counts retries for series. A nil
// classifier keeps the retrier's own.
func newSeriesRetrier(policy apperrors.RetryPolicy, sleep apperrors.SleepFunc, m *metrics.MetricsCollector,
	classifier *apperrors.ErrorClassifier, series string, logger *slog.Logger) *apperrors.Retrier {
	r := apperrors.NewRetrier(policy, logger.With("series", series))
	if sleep != nil {
		r.Sleep = sleep
	}
	if classifier != nil {
		r.Classifier = classifier
	}
	r.OnRetry = func(apperrors.RetryEvent) {
		m.RecordRetry(series)
	}
	return r
}

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-derivs-collector/internal/coinglass"
	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/metrics"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/validator"
)

// LevelRequest selects one open interest or funding rate history.
type LevelRequest struct {
	Exchange   string
	Instrument string
	Interval   models.Interval
	Window     models.TimeWindow
	Kind       models.LevelKind
}

// LevelFetcher pages through CoinGlass level histories.
type LevelFetcher struct {
	source    LevelSource
	index     *validator.Index
	policy    apperrors.RetryPolicy
	sleep     apperrors.SleepFunc
	stride    string
	pageLimit int
	metrics   *metrics.MetricsCollector
	errs      *apperrors.ErrorClassifier
	logger    *slog.Logger
}

// FetchLevelSeries returns the OHLC history of req.Kind. The instrument is
// checked against the index before any request is made. Points are kept as
// received: no end trim, NaN for nulls.
func (f *LevelFetcher) FetchLevelSeries(ctx context.Context, req LevelRequest) (*models.LevelSeries, error) {
	if !f.index.IsSupported(req.Exchange, req.Instrument) {
		return nil, fmt.Errorf("%w: %q on %q", apperrors.ErrUnsupportedInstrument, req.Instrument, req.Exchange)
	}

	series := req.Kind.String()
	started := time.Now()
	limit := f.pageLimit
	if limit <= 0 || limit > coinglass.MaxPageLimit {
		limit = coinglass.MaxPageLimit
	}
	endSec := req.Window.EndSeconds()

	var records []models.LevelRecord
	p := &Paginator{
		Step:      req.Interval.Seconds(),
		PageLimit: int64(limit),
		Stride:    f.stride,
		Retrier:   newSeriesRetrier(f.policy, f.sleep, f.metrics, f.errs, series, f.logger),
		Component: "coinglass",
		Operation: req.Kind.Endpoint() + "_history",
		OnPage: func(cursor int64, page Page) {
			f.metrics.RecordPage(series, page.Count)
			f.logger.DebugContext(ctx, "level page fetched",
				"series", series,
				"start_time", cursor,
				"rows", page.Count)
		},
	}

	err := p.Walk(ctx, req.Window.StartSeconds(), endSec, func(ctx context.Context, cursor int64) (Page, error) {
		points, err := f.source.History(ctx, req.Kind, coinglass.HistoryRequest{
			Exchange:  req.Exchange,
			Symbol:    req.Instrument,
			Interval:  req.Interval.Token,
			StartTime: cursor,
			EndTime:   endSec,
			Limit:     limit,
		})
		if err != nil {
			return Page{}, err
		}

		page := Page{Count: len(points)}
		for _, pt := range points {
			records = append(records, models.LevelRecord{
				Timestamp: time.Unix(pt.Time, 0).UTC(),
				Open:      pt.Open,
				High:      pt.High,
				Low:       pt.Low,
				Close:     pt.Close,
			})
			if pt.Time > page.Last {
				page.Last = pt.Time
			}
		}
		return page, nil
	})
	if err != nil {
		f.metrics.RecordFailure(series)
		return nil, err
	}
	f.metrics.RecordDuration(series, time.Since(started))

	f.logger.InfoContext(ctx, "level series fetched",
		"series", series,
		"exchange", req.Exchange,
		"instrument", req.Instrument,
		"interval", req.Interval.Token,
		"rows", len(records),
		"duration", time.Since(started))

	if records == nil {
		records = []models.LevelRecord{}
	}
	return &models.LevelSeries{Kind: req.Kind, Records: records}, nil
}

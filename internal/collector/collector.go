// Package collector fetches candles, open interest and funding rate
// histories for one instrument and joins them into an aligned series.
//
// Every call is sequential: series are fetched one after another and pages
// one after another. Transient upstream failures are held and retried per
// the injected retry policies; cancel the context to stop a call.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/exchange"
	"github.com/johnayoung/go-derivs-collector/internal/gaps"
	applog "github.com/johnayoung/go-derivs-collector/internal/logger"
	"github.com/johnayoung/go-derivs-collector/internal/metrics"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/storage"
	"github.com/johnayoung/go-derivs-collector/internal/validator"
)

// ErrNoStore is returned by LoadStored when no store is configured.
var ErrNoStore = errors.New("no series store configured")

// AllRequest selects the aligned series of one instrument. TradingSymbol is
// the exchange's own symbol; MetadataSymbol is the CoinGlass instrument id.
// Start and End are DD.MM.YYYY dates.
type AllRequest struct {
	Exchange       string
	TradingSymbol  string
	MetadataSymbol string
	Interval       string
	Start          string
	End            string
	Futures        bool
	Params         map[string]string
}

// Collector is the public entry point. It is safe for concurrent use; each
// call owns its own buffers.
type Collector struct {
	resolver ConnectorResolver
	index    *validator.Index
	codec    models.Codec
	candles  *CandleFetcher
	levels   *LevelFetcher
	gaps     *gaps.Detector
	store    storage.SeriesStore
	metrics  *metrics.MetricsCollector
	errs     *apperrors.ErrorClassifier
	logger   *slog.Logger
}

// GetAll fetches open interest, then funding rate, then candles, and
// inner-joins them on timestamp. Any failure aborts the call and returns no
// rows. When a store is configured the aligned series is saved; a failed
// save is logged and does not fail the call.
func (c *Collector) GetAll(ctx context.Context, req AllRequest) (*models.AlignedSeries, error) {
	interval, window, err := c.parse(req.Interval, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	conn, err := c.resolver.Resolve(req.Exchange, req.Futures)
	if err != nil {
		return nil, err
	}

	ctx, traceID := applog.NewTraceContext(ctx)
	ctx = applog.WithExchange(ctx, req.Exchange)
	ctx = applog.WithInstrument(ctx, req.MetadataSymbol)
	ctx = applog.WithInterval(ctx, interval.Token)

	started := time.Now()
	c.logger.InfoContext(ctx, "collecting aligned series",
		"trading_symbol", req.TradingSymbol,
		"start", req.Start,
		"end", req.End,
		"futures", req.Futures)

	levelReq := LevelRequest{
		Exchange:   req.Exchange,
		Instrument: req.MetadataSymbol,
		Interval:   interval,
		Window:     window,
	}

	levelReq.Kind = models.OpenInterest
	oi, err := c.levels.FetchLevelSeries(applog.WithSeries(ctx, metrics.SeriesOpenInterest), levelReq)
	if err != nil {
		return nil, c.fail(ctx, metrics.SeriesOpenInterest, req.Exchange, req.MetadataSymbol, err)
	}

	levelReq.Kind = models.FundingRate
	fr, err := c.levels.FetchLevelSeries(applog.WithSeries(ctx, metrics.SeriesFundingRate), levelReq)
	if err != nil {
		return nil, c.fail(ctx, metrics.SeriesFundingRate, req.Exchange, req.MetadataSymbol, err)
	}

	candles, err := c.candles.FetchCandles(applog.WithSeries(ctx, metrics.SeriesCandles),
		conn, req.TradingSymbol, interval, window, req.Params)
	if err != nil {
		return nil, c.fail(ctx, metrics.SeriesCandles, req.Exchange, req.TradingSymbol, err)
	}

	series := Align(candles, oi, fr)

	report := c.gaps.DetectInRange(req.Exchange+"/"+req.TradingSymbol, series.Timestamps(),
		interval.Duration(), window.Start, window.End)
	c.gaps.Log(ctx, report)

	if c.store != nil {
		key := storage.SeriesKey{Exchange: req.Exchange, Instrument: req.TradingSymbol, Interval: interval.Token}
		if err := c.store.SaveSeries(ctx, key, series); err != nil {
			applog.LogError(ctx, c.logger, err, "failed to save aligned series", "series", key.String())
		}
	}

	c.logger.InfoContext(ctx, "aligned series collected",
		"trace_id", traceID,
		"candles", len(candles),
		"open_interest", oi.Len(),
		"funding_rate", fr.Len(),
		"rows", series.Len(),
		"duration", time.Since(started))
	return series, nil
}

func (c *Collector) fail(ctx context.Context, series, exchangeName, instrument string, err error) error {
	cerr := &CollectionError{Series: series, Exchange: exchangeName, Instrument: instrument, Err: err}
	applog.LogError(ctx, c.logger, err, "collection failed",
		"series", series,
		"error_type", apperrors.GetErrorType(err),
		"retryable", apperrors.IsRetryable(err))
	return cerr
}

// GetOHLCV fetches the candles of symbol on exchange.
func (c *Collector) GetOHLCV(ctx context.Context, exchangeName, symbol, interval, start, end string,
	futures bool, params map[string]string) ([]models.Candle, error) {
	iv, window, err := c.parse(interval, start, end)
	if err != nil {
		return nil, err
	}
	conn, err := c.resolver.Resolve(exchangeName, futures)
	if err != nil {
		return nil, err
	}

	ctx = applog.WithExchange(ctx, exchangeName)
	ctx = applog.WithInstrument(ctx, symbol)
	return c.candles.FetchCandles(ctx, conn, symbol, iv, window, params)
}

// GetOpenInterestOHLC fetches the open interest OHLC history of instrument.
func (c *Collector) GetOpenInterestOHLC(ctx context.Context, exchangeName, instrument, interval, start, end string) (*models.LevelSeries, error) {
	return c.getLevels(ctx, models.OpenInterest, exchangeName, instrument, interval, start, end)
}

// GetFundingRateOHLC fetches the funding rate OHLC history of instrument.
func (c *Collector) GetFundingRateOHLC(ctx context.Context, exchangeName, instrument, interval, start, end string) (*models.LevelSeries, error) {
	return c.getLevels(ctx, models.FundingRate, exchangeName, instrument, interval, start, end)
}

func (c *Collector) getLevels(ctx context.Context, kind models.LevelKind, exchangeName, instrument, interval, start, end string) (*models.LevelSeries, error) {
	iv, window, err := c.parse(interval, start, end)
	if err != nil {
		return nil, err
	}

	ctx = applog.WithExchange(ctx, exchangeName)
	ctx = applog.WithInstrument(ctx, instrument)
	return c.levels.FetchLevelSeries(ctx, LevelRequest{
		Exchange:   exchangeName,
		Instrument: instrument,
		Interval:   iv,
		Window:     window,
		Kind:       kind,
	})
}

// Validate reports whether CoinGlass lists instrument on exchange.
func (c *Collector) Validate(exchangeName, instrument string) bool {
	return c.index.IsSupported(exchangeName, instrument)
}

// SearchInstruments returns the snapshot instruments of exchange whose id
// contains fragment, ignoring case.
func (c *Collector) SearchInstruments(exchangeName, fragment string) []models.Instrument {
	return c.index.Search(exchangeName, fragment)
}

// SearchMarkets lists the exchange's own markets whose symbol contains
// fragment, ignoring case. Only connectors that can list markets support it.
func (c *Collector) SearchMarkets(ctx context.Context, exchangeName string, futures bool, fragment string) ([]models.Market, error) {
	conn, err := c.resolver.Resolve(exchangeName, futures)
	if err != nil {
		return nil, err
	}
	lister, ok := conn.(exchange.MarketLister)
	if !ok || !conn.Has(exchange.CapabilityFetchMarkets) {
		return nil, fmt.Errorf("%w: %s cannot list markets", apperrors.ErrCapabilityUnsupported, conn.ID())
	}

	markets, err := lister.Markets(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(fragment)
	out := make([]models.Market, 0, len(markets))
	for _, m := range markets {
		if strings.Contains(strings.ToLower(m.Symbol), needle) {
			out = append(out, m)
		}
	}
	return out, nil
}

// LoadStored reads a previously saved aligned series from the store.
func (c *Collector) LoadStored(ctx context.Context, exchangeName, symbol, interval, start, end string) (*models.AlignedSeries, error) {
	if c.store == nil {
		return nil, ErrNoStore
	}
	iv, window, err := c.parse(interval, start, end)
	if err != nil {
		return nil, err
	}
	key := storage.SeriesKey{Exchange: exchangeName, Instrument: symbol, Interval: iv.Token}
	series, err := c.store.LoadSeries(ctx, key, window.Start, window.End)
	if err != nil {
		return nil, apperrors.WrapError(err, "collector", "load_stored", "failed to load "+key.String())
	}
	c.gaps.Log(ctx, c.gaps.DetectInSequence(key.String(), series.Timestamps(), iv.Duration()))
	return series, nil
}

// Metrics returns a snapshot of the fetch counters.
func (c *Collector) Metrics() metrics.MetricsSnapshot {
	return c.metrics.GetSnapshot()
}

// LogMetrics writes the fetch counters to the collector's logger.
// Failures seen by the retriers are summarised per error type.
func (c *Collector) LogMetrics(ctx context.Context) {
	c.metrics.LogSnapshot(ctx, c.logger)
	for errType, stats := range c.ErrorStats() {
		c.logger.InfoContext(ctx, "fetch errors",
			"error_type", errType,
			"count", stats.Count,
			"first_seen", stats.FirstSeen,
			"last_seen", stats.LastSeen)
	}
}

// ErrorStats returns the page failures classified so far, by error type.
func (c *Collector) ErrorStats() map[apperrors.ErrorType]apperrors.ErrorStats {
	return c.errs.GetStats()
}

// Close releases the store.
func (c *Collector) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Collector) parse(interval, start, end string) (models.Interval, models.TimeWindow, error) {
	iv, err := c.codec.Parse(interval)
	if err != nil {
		return models.Interval{}, models.TimeWindow{}, err
	}
	window, err := models.NewTimeWindow(start, end)
	if err != nil {
		return models.Interval{}, models.TimeWindow{}, err
	}
	return iv, window, nil
}

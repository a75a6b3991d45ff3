// Package exchange defines the connector contract used by the candle
// fetcher and the per-exchange implementations behind it.
//
// A Connector returns one page of candles at a time. Pagination, retries and
// trimming to the requested window belong to the caller; a connector only
// maps a page request onto its upstream API and normalizes the response into
// models.RawCandle rows in ascending time order.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/transport"
)

// Capability names an optional connector feature.
type Capability string

const (
	// CapabilityFetchOHLCV is required of every connector the registry
	// hands out.
	CapabilityFetchOHLCV Capability = "fetchOHLCV"
	// CapabilityFetchMarkets marks connectors that implement MarketLister.
	CapabilityFetchMarkets Capability = "fetchMarkets"
)

var nan = math.NaN()

// CandleRequest asks a connector for one page of candles.
type CandleRequest struct {
	// Symbol is the exchange-native market id (BTCUSDT, BTC-USDT-SWAP, ...)
	Symbol string

	Interval models.Interval

	// Since is the inclusive lower bound of the page, unix milliseconds
	Since int64

	// Limit caps the page size; zero uses the connector default
	Limit int

	// Params are passed through to the upstream request where the connector
	// supports them (category, productType, ...)
	Params map[string]string
}

// Connector fetches candle pages from one exchange market.
//
// FetchOHLCV returns rows ordered by OpenTime, all at or after req.Since.
// An empty slice means the upstream had nothing for the page. Upstream
// failures are returned as *errors.ClassifiedError.
type Connector interface {
	ID() string
	Has(capability Capability) bool
	FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error)
}

// MarketLister is implemented by connectors with CapabilityFetchMarkets.
type MarketLister interface {
	Markets(ctx context.Context) ([]models.Market, error)
}

// Settings configures a single connector.
type Settings struct {
	ID         string
	BaseURL    string
	RateLimit  float64 // requests per second
	Burst      int
	Timeout    time.Duration
	PageLimit  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SettingsFromConfig builds Settings for connector id from cfg. The timeout
// string has already been validated by the config package.
func SettingsFromConfig(id string, cfg config.ExchangeConfig, logger *slog.Logger) Settings {
	timeout, _ := time.ParseDuration(cfg.Timeout)
	return Settings{
		ID:        id,
		BaseURL:   cfg.BaseURL,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		Timeout:   timeout,
		PageLimit: cfg.PageLimit,
		Logger:    logger,
	}
}

func (s Settings) withDefaults(defaultBase string, defaultLimit int) Settings {
	if s.BaseURL == "" {
		s.BaseURL = defaultBase
	}
	if s.PageLimit <= 0 {
		s.PageLimit = defaultLimit
	}
	if s.Timeout <= 0 {
		s.Timeout = transport.DefaultTimeout
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{Timeout: s.Timeout}
	}
	return s
}

func (s Settings) restClient() *transport.Client {
	return transport.New(transport.Options{
		Name:       s.ID,
		BaseURL:    s.BaseURL,
		Timeout:    s.Timeout,
		RateLimit:  s.RateLimit,
		Burst:      s.Burst,
		HTTPClient: s.HTTPClient,
		Logger:     s.Logger,
	})
}

func (s Settings) limiter() *rate.Limiter {
	if s.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := s.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.RateLimit), burst)
}

// wait blocks on a connector limiter, classifying the failure the way
// transport.Client.Wait does.
func wait(ctx context.Context, limiter *rate.Limiter, component, operation string) error {
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return apperrors.New(apperrors.ErrorTypeCanceled, component, operation, ctx.Err())
		}
		return apperrors.New(apperrors.ErrorTypeRateLimit, component, operation, err)
	}
	return nil
}

// pageLimit resolves the page size of a request against the connector cap.
func pageLimit(requested, maxLimit int) int {
	if requested <= 0 || requested > maxLimit {
		return maxLimit
	}
	return requested
}

// pageEnd is the exclusive upper bound, in ms, of a page of limit rows.
func pageEnd(req CandleRequest, limit int) int64 {
	return req.Since + int64(limit)*req.Interval.Milliseconds()
}

func param(req CandleRequest, key, fallback string) string {
	if v, ok := req.Params[key]; ok && v != "" {
		return v
	}
	return fallback
}

// unsupportedInterval reports an interval the upstream has no bar size for.
func unsupportedInterval(id string, interval models.Interval) error {
	return fmt.Errorf("%s: no upstream bar size for %q: %w", id, interval.Token, apperrors.ErrInvalidInterval)
}

// rowCandle converts a positional upstream row [ts, o, h, l, c, v, ...]
// whose timestamp is already in milliseconds.
func rowCandle(row []decimal.NullDecimal, volumeIdx int) (models.RawCandle, bool) {
	if len(row) <= volumeIdx || len(row) < 5 || !row[0].Valid {
		return models.RawCandle{}, false
	}
	return models.RawCandle{
		OpenTime: row[0].Decimal.IntPart(),
		Open:     toFloat(row[1]),
		High:     toFloat(row[2]),
		Low:      toFloat(row[3]),
		Close:    toFloat(row[4]),
		Volume:   toFloat(row[volumeIdx]),
	}, true
}

func toFloat(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return nan
	}
	f, _ := d.Decimal.Float64()
	return f
}

func parseFloat(s string) float64 {
	if s == "" {
		return nan
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nan
	}
	f, _ := d.Float64()
	return f
}

// normalize sorts rows ascending, drops rows before since and collapses
// duplicate open times to the first occurrence.
func normalize(rows []models.RawCandle, since int64) []models.RawCandle {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].OpenTime < rows[j].OpenTime })

	out := rows[:0]
	for _, r := range rows {
		if r.OpenTime < since {
			continue
		}
		if len(out) > 0 && out[len(out)-1].OpenTime == r.OpenTime {
			continue
		}
		out = append(out, r)
	}
	return out
}

// classifySDKError maps an error returned by an exchange SDK onto the
// taxonomy. SDKs surface API rejections as plain errors, so anything the
// classifier cannot place is an exchange error.
func classifySDKError(ctx context.Context, classifier *apperrors.ErrorClassifier, component, operation string, err error) error {
	var ce *apperrors.ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	if ctx.Err() != nil {
		return apperrors.New(apperrors.ErrorTypeCanceled, component, operation, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return transport.ClassifyTransportError(ctx, component, operation, err)
	}

	ce = classifier.Classify(err, component, operation)
	if ce.Type == apperrors.ErrorTypeUnknown {
		return apperrors.New(apperrors.ErrorTypeExchange, component, operation, err)
	}
	return ce
}

// apiError builds the classified error for an application-level rejection
// carried inside a 200 response.
func apiError(component, operation string, errType apperrors.ErrorType, code, msg string) error {
	msg = strings.TrimSpace(msg)
	if code == "" {
		return apperrors.Newf(errType, component, operation, "%s error: %s", component, msg)
	}
	return apperrors.Newf(errType, component, operation, "%s error %s: %s", component, code, msg)
}

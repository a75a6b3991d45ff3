// Package coinglass is a client for the CoinGlass futures API: the supported
// exchange-pair snapshot and the open interest and funding rate OHLC
// histories.
package coinglass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/transport"
)

const (
	// DefaultBaseURL is the v3 futures API root.
	DefaultBaseURL = "https://open-api-v3.coinglass.com/api/futures"
	// MaxPageLimit is the documented cap on points per history request.
	MaxPageLimit = 4500

	apiKeyHeader = "CG-API-KEY"
	component    = "coinglass"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to CoinGlass. It is safe for concurrent use.
type Client struct {
	http   *transport.Client
	logger *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	return &Client{
		http: transport.New(transport.Options{
			Name:       component,
			BaseURL:    opts.BaseURL,
			Timeout:    opts.Timeout,
			RateLimit:  opts.RateLimit,
			Burst:      opts.Burst,
			Headers:    map[string]string{apiKeyHeader: opts.APIKey},
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}),
		logger: opts.Logger,
	}
}

// envelope is the response wrapper of every endpoint.
type envelope[T any] struct {
	Code    json.RawMessage `json:"code"`
	Msg     string          `json:"msg"`
	Success *bool           `json:"success,omitempty"`
	Data    T               `json:"data"`
}

func (e envelope[T]) code() string {
	return strings.Trim(string(e.Code), `"`)
}

// check converts a non-zero envelope code into a classified error.
func (e envelope[T]) check(operation string) error {
	code := e.code()
	if code == "0" || (code == "" && (e.Success == nil || *e.Success)) {
		return nil
	}

	err := fmt.Errorf("coinglass code %s: %s", code, e.Msg)
	msg := strings.ToLower(e.Msg)
	switch {
	case code == "401" || code == "403" || code == "30001" || strings.Contains(msg, "api key") || strings.Contains(msg, "apikey"):
		return apperrors.New(apperrors.ErrorTypeAuthentication, component, operation, err)
	case code == "429" || strings.Contains(msg, "too many") || strings.Contains(msg, "rate limit"):
		return apperrors.New(apperrors.ErrorTypeRateLimit, component, operation, err)
	case code == "400" || code == "40001" || strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "invalid") || strings.Contains(msg, "param"):
		return apperrors.New(apperrors.ErrorTypeBadRequest, component, operation, err)
	case code == "500" || code == "503":
		return apperrors.New(apperrors.ErrorTypeExchangeUnavailable, component, operation, err)
	default:
		return apperrors.New(apperrors.ErrorTypeExchange, component, operation, err)
	}
}

type wireInstrument struct {
	InstrumentID string `json:"instrumentId"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
}

// SupportedExchangePairs returns the full exchange -> instruments snapshot.
func (c *Client) SupportedExchangePairs(ctx context.Context) (map[string][]models.Instrument, error) {
	const operation = "supported_exchange_pairs"

	var resp envelope[map[string][]wireInstrument]
	if err := c.http.GetJSON(ctx, operation, "/supported-exchange-pairs", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(operation); err != nil {
		return nil, err
	}

	out := make(map[string][]models.Instrument, len(resp.Data))
	total := 0
	for exchange, instruments := range resp.Data {
		list := make([]models.Instrument, 0, len(instruments))
		for _, in := range instruments {
			list = append(list, models.Instrument{
				ID:         in.InstrumentID,
				BaseAsset:  in.BaseAsset,
				QuoteAsset: in.QuoteAsset,
			})
		}
		out[exchange] = list
		total += len(list)
	}

	c.logger.DebugContext(ctx, "loaded supported exchange pairs",
		"exchanges", len(out),
		"instruments", total)

	return out, nil
}

// HistoryRequest is one page request of a level history. Times are epoch seconds.
type HistoryRequest struct {
	Exchange  string
	Symbol    string
	Interval  string
	StartTime int64
	EndTime   int64
	Limit     int
}

type wirePoint struct {
	T json.Number         `json:"t"`
	O decimal.NullDecimal `json:"o"`
	H decimal.NullDecimal `json:"h"`
	L decimal.NullDecimal `json:"l"`
	C decimal.NullDecimal `json:"c"`
}

// History fetches one page of the open interest or funding rate OHLC history.
func (c *Client) History(ctx context.Context, kind models.LevelKind, req HistoryRequest) ([]models.RawLevel, error) {
	operation := kind.Endpoint() + "_history"

	limit := req.Limit
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	query := url.Values{}
	query.Set("exchange", req.Exchange)
	query.Set("symbol", req.Symbol)
	query.Set("interval", req.Interval)
	query.Set("startTime", strconv.FormatInt(req.StartTime, 10))
	query.Set("endTime", strconv.FormatInt(req.EndTime, 10))
	query.Set("limit", strconv.Itoa(limit))

	var resp envelope[[]wirePoint]
	if err := c.http.GetJSON(ctx, operation, "/"+kind.Endpoint()+"/ohlc-history", query, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(operation); err != nil {
		return nil, err
	}

	levels := make([]models.RawLevel, 0, len(resp.Data))
	for _, p := range resp.Data {
		ts, err := p.T.Int64()
		if err != nil {
			f, ferr := p.T.Float64()
			if ferr != nil {
				return nil, apperrors.Newf(apperrors.ErrorTypeExchange, component, operation, "invalid point time %q", p.T)
			}
			ts = int64(f)
		}
		levels = append(levels, models.RawLevel{
			Time:  ts,
			Open:  toFloat(p.O),
			High:  toFloat(p.H),
			Low:   toFloat(p.L),
			Close: toFloat(p.C),
		})
	}
	return levels, nil
}

// OpenInterestHistory fetches one page of the open interest OHLC history.
func (c *Client) OpenInterestHistory(ctx context.Context, req HistoryRequest) ([]models.RawLevel, error) {
	return c.History(ctx, models.OpenInterest, req)
}

// FundingRateHistory fetches one page of the funding rate OHLC history.
func (c *Client) FundingRateHistory(ctx context.Context, req HistoryRequest) ([]models.RawLevel, error) {
	return c.History(ctx, models.FundingRate, req)
}

func toFloat(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return math.NaN()
	}
	f, _ := d.Decimal.Float64()
	return f
}

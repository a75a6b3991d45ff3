package exchange

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const (
	krakenBaseURL  = "https://api.kraken.com"
	krakenOHLC     = "/0/public/OHLC"
	krakenMaxLimit = 720

	krakenFuturesBaseURL  = "https://futures.kraken.com"
	krakenFuturesCharts   = "/api/charts/v1/trade/"
	krakenFuturesMaxLimit = 2000
)

// Kraken spot intervals, in minutes.
var krakenIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "4h": "240", "1d": "1440", "1w": "10080",
}

var krakenFuturesResolutions = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "4h": "4h", "12h": "12h", "1d": "1d", "1w": "1w",
}

// KrakenConnector reads spot candles from the Kraken public OHLC endpoint.
// Kraken serves at most the last 720 bars of any interval.
type KrakenConnector struct {
	restConnector
}

// NewKrakenConnector creates the Kraken spot connector.
func NewKrakenConnector(s Settings) *KrakenConnector {
	s = s.withDefaults(krakenBaseURL, krakenMaxLimit)
	if s.ID == "" {
		s.ID = "kraken"
	}
	return &KrakenConnector{restConnector: newRESTConnector(s)}
}

type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// FetchOHLCV implements Connector.
func (c *KrakenConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	interval, ok := krakenIntervals[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, krakenMaxLimit))

	q := url.Values{}
	q.Set("pair", req.Symbol)
	q.Set("interval", interval)
	q.Set("since", strconv.FormatInt((req.Since-1)/1000, 10))

	var resp krakenResponse
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", krakenOHLC, q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		msg := strings.Join(resp.Error, "; ")
		return nil, apiError(c.id, "fetch_ohlcv", krakenErrorType(msg), "", msg)
	}

	var rows []models.RawCandle
	for key, raw := range resp.Result {
		if key == "last" {
			continue
		}
		var bars [][]decimal.NullDecimal
		if err := json.Unmarshal(raw, &bars); err != nil {
			return nil, apperrors.New(apperrors.ErrorTypeExchange, c.id, "fetch_ohlcv", err)
		}
		// [time, open, high, low, close, vwap, volume, count]
		for _, bar := range bars {
			candle, ok := rowCandle(bar, 6)
			if !ok {
				continue
			}
			candle.OpenTime *= 1000
			rows = append(rows, candle)
		}
	}

	rows = normalize(rows, req.Since)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func krakenErrorType(msg string) apperrors.ErrorType {
	switch {
	case strings.Contains(msg, "Rate limit"), strings.Contains(msg, "Too many requests"):
		return apperrors.ErrorTypeRateLimit
	case strings.HasPrefix(msg, "EService:"):
		return apperrors.ErrorTypeExchangeUnavailable
	case strings.Contains(msg, "Unknown asset pair"), strings.Contains(msg, "Invalid arguments"):
		return apperrors.ErrorTypeBadRequest
	case strings.HasPrefix(msg, "EAPI:Invalid key"):
		return apperrors.ErrorTypeAuthentication
	}
	return apperrors.ErrorTypeExchange
}

// KrakenFuturesConnector reads trade candles from the Kraken Futures charts
// API (PF_XBTUSD, PI_XBTUSD, ...).
type KrakenFuturesConnector struct {
	restConnector
}

// NewKrakenFuturesConnector creates the Kraken Futures connector.
func NewKrakenFuturesConnector(s Settings) *KrakenFuturesConnector {
	s = s.withDefaults(krakenFuturesBaseURL, krakenFuturesMaxLimit)
	if s.ID == "" {
		s.ID = "krakenfutures"
	}
	return &KrakenFuturesConnector{restConnector: newRESTConnector(s)}
}

type krakenFuturesCandle struct {
	Time   int64               `json:"time"`
	Open   decimal.NullDecimal `json:"open"`
	High   decimal.NullDecimal `json:"high"`
	Low    decimal.NullDecimal `json:"low"`
	Close  decimal.NullDecimal `json:"close"`
	Volume decimal.NullDecimal `json:"volume"`
}

type krakenFuturesResponse struct {
	Candles     []krakenFuturesCandle `json:"candles"`
	MoreCandles bool                  `json:"more_candles"`
}

// FetchOHLCV implements Connector.
func (c *KrakenFuturesConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	resolution, ok := krakenFuturesResolutions[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, krakenFuturesMaxLimit))

	q := url.Values{}
	q.Set("from", strconv.FormatInt(req.Since/1000, 10))
	q.Set("to", strconv.FormatInt((pageEnd(req, limit)-1)/1000, 10))

	path := krakenFuturesCharts + url.PathEscape(req.Symbol) + "/" + resolution

	var resp krakenFuturesResponse
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", path, q, &resp); err != nil {
		return nil, err
	}

	rows := make([]models.RawCandle, 0, len(resp.Candles))
	for _, k := range resp.Candles {
		rows = append(rows, models.RawCandle{
			OpenTime: k.Time,
			Open:     toFloat(k.Open),
			High:     toFloat(k.High),
			Low:      toFloat(k.Low),
			Close:    toFloat(k.Close),
			Volume:   toFloat(k.Volume),
		})
	}
	return normalize(rows, req.Since), nil
}

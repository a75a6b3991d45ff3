package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const (
	bybitBaseURL         = "https://api.bybit.com"
	bybitMaxLimit        = 1000
	bybitDefaultCategory = "linear"
)

var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W",
}

// BybitConnector reads V5 market klines through bybit.go.api. The category
// defaults to linear and can be overridden with the "category" request
// param (spot, inverse).
type BybitConnector struct {
	id         string
	client     *bybit.Client
	limiter    *rate.Limiter
	pageLimit  int
	classifier *apperrors.ErrorClassifier
	logger     *slog.Logger
}

// NewBybitConnector creates the Bybit connector.
func NewBybitConnector(s Settings) *BybitConnector {
	s = s.withDefaults(bybitBaseURL, bybitMaxLimit)
	if s.ID == "" {
		s.ID = "bybit"
	}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(s.BaseURL))
	client.HTTPClient = s.HTTPClient

	return &BybitConnector{
		id:         s.ID,
		client:     client,
		limiter:    s.limiter(),
		pageLimit:  min(s.PageLimit, bybitMaxLimit),
		classifier: apperrors.NewErrorClassifier(s.Logger),
		logger:     s.Logger.With("component", "exchange", "exchange", s.ID),
	}
}

// ID returns the connector id.
func (c *BybitConnector) ID() string { return c.id }

// Has reports candle retrieval and market listing.
func (c *BybitConnector) Has(capability Capability) bool {
	return capability == CapabilityFetchOHLCV || capability == CapabilityFetchMarkets
}

type bybitKlineResult struct {
	Category string                  `json:"category"`
	Symbol   string                  `json:"symbol"`
	List     [][]decimal.NullDecimal `json:"list"`
}

type bybitInstrumentResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		BaseCoin     string `json:"baseCoin"`
		QuoteCoin    string `json:"quoteCoin"`
		ContractType string `json:"contractType"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// FetchOHLCV implements Connector. Bybit lists klines newest first.
func (c *BybitConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	interval, ok := bybitIntervals[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, c.pageLimit)

	params := map[string]interface{}{
		"category": param(req, "category", bybitDefaultCategory),
		"symbol":   req.Symbol,
		"interval": interval,
		"start":    req.Since,
		"end":      pageEnd(req, limit) - 1,
		"limit":    limit,
	}

	var result bybitKlineResult
	if err := c.call(ctx, "fetch_ohlcv", params, &result, func(svc *bybit.BybitClientRequest) (*bybit.ServerResponse, error) {
		return svc.GetMarketKline(ctx)
	}); err != nil {
		return nil, err
	}

	// [startTime, open, high, low, close, volume, turnover]
	rows := make([]models.RawCandle, 0, len(result.List))
	for _, row := range result.List {
		if candle, ok := rowCandle(row, 5); ok {
			rows = append(rows, candle)
		}
	}
	c.logger.DebugContext(ctx, "kline page received", "symbol", req.Symbol, "category", params["category"], "rows", len(rows))
	return normalize(rows, req.Since), nil
}

// Markets implements MarketLister for the linear category.
func (c *BybitConnector) Markets(ctx context.Context) ([]models.Market, error) {
	params := map[string]interface{}{
		"category": bybitDefaultCategory,
		"limit":    1000,
	}

	var result bybitInstrumentResult
	if err := c.call(ctx, "fetch_markets", params, &result, func(svc *bybit.BybitClientRequest) (*bybit.ServerResponse, error) {
		return svc.GetInstrumentInfo(ctx)
	}); err != nil {
		return nil, err
	}

	out := make([]models.Market, 0, len(result.List))
	for _, inst := range result.List {
		out = append(out, models.Market{
			Symbol:     inst.Symbol,
			BaseAsset:  inst.BaseCoin,
			QuoteAsset: inst.QuoteCoin,
			Status:     inst.Status,
			Contract:   inst.ContractType != "",
		})
	}
	return out, nil
}

// call issues one SDK request and decodes its result into out.
func (c *BybitConnector) call(ctx context.Context, operation string, params map[string]interface{}, out any,
	do func(svc *bybit.BybitClientRequest) (*bybit.ServerResponse, error)) error {
	if err := wait(ctx, c.limiter, c.id, operation); err != nil {
		return err
	}

	resp, err := do(c.client.NewUtaBybitServiceWithParams(params))
	if err != nil {
		return classifySDKError(ctx, c.classifier, c.id, operation, err)
	}
	if resp == nil {
		return apperrors.Newf(apperrors.ErrorTypeExchange, c.id, operation, "empty response")
	}
	if resp.RetCode != 0 {
		return apiError(c.id, operation, bybitErrorType(resp.RetCode), strconv.Itoa(resp.RetCode), resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return apperrors.New(apperrors.ErrorTypeExchange, c.id, operation, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apperrors.New(apperrors.ErrorTypeExchange, c.id, operation, err)
	}
	return nil
}

func bybitErrorType(code int) apperrors.ErrorType {
	switch code {
	case 10006, 10018:
		return apperrors.ErrorTypeRateLimit
	case 10003, 10004, 10005, 10007, 10009, 10010:
		return apperrors.ErrorTypeAuthentication
	case 10016:
		return apperrors.ErrorTypeExchangeUnavailable
	case 10001:
		return apperrors.ErrorTypeBadRequest
	}
	return apperrors.ErrorTypeExchange
}

package exchange

import (
	"context"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const (
	deribitBaseURL   = "https://www.deribit.com"
	deribitChartData = "/api/v2/public/get_tradingview_chart_data"
	deribitMaxLimit  = 1000
)

var deribitResolutions = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "10m": "10", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "3h": "180", "6h": "360", "12h": "720", "1d": "1D",
}

// DeribitConnector reads candles from the Deribit TradingView chart endpoint
// (BTC-PERPETUAL, ETH-28MAR25, ...).
type DeribitConnector struct {
	restConnector
}

// NewDeribitConnector creates the Deribit connector.
func NewDeribitConnector(s Settings) *DeribitConnector {
	s = s.withDefaults(deribitBaseURL, deribitMaxLimit)
	if s.ID == "" {
		s.ID = "deribit"
	}
	return &DeribitConnector{restConnector: newRESTConnector(s)}
}

type deribitChart struct {
	Ticks  []int64               `json:"ticks"`
	Open   []decimal.NullDecimal `json:"open"`
	High   []decimal.NullDecimal `json:"high"`
	Low    []decimal.NullDecimal `json:"low"`
	Close  []decimal.NullDecimal `json:"close"`
	Volume []decimal.NullDecimal `json:"volume"`
	Status string                `json:"status"`
}

type deribitResponse struct {
	Result *deribitChart `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchOHLCV implements Connector.
func (c *DeribitConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	resolution, ok := deribitResolutions[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, deribitMaxLimit))

	q := url.Values{}
	q.Set("instrument_name", req.Symbol)
	q.Set("resolution", resolution)
	q.Set("start_timestamp", strconv.FormatInt(req.Since, 10))
	q.Set("end_timestamp", strconv.FormatInt(pageEnd(req, limit)-1, 10))

	var resp deribitResponse
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", deribitChartData, q, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		code := strconv.Itoa(resp.Error.Code)
		return nil, apiError(c.id, "fetch_ohlcv", deribitErrorType(resp.Error.Code), code, resp.Error.Message)
	}
	if resp.Result == nil || resp.Result.Status == "no_data" {
		return []models.RawCandle{}, nil
	}

	chart := resp.Result
	at := func(col []decimal.NullDecimal, i int) float64 {
		if i >= len(col) {
			return nan
		}
		return toFloat(col[i])
	}

	rows := make([]models.RawCandle, 0, len(chart.Ticks))
	for i, ts := range chart.Ticks {
		rows = append(rows, models.RawCandle{
			OpenTime: ts,
			Open:     at(chart.Open, i),
			High:     at(chart.High, i),
			Low:      at(chart.Low, i),
			Close:    at(chart.Close, i),
			Volume:   at(chart.Volume, i),
		})
	}
	return normalize(rows, req.Since), nil
}

func deribitErrorType(code int) apperrors.ErrorType {
	switch code {
	case 10028:
		return apperrors.ErrorTypeRateLimit
	case 10029, 13009, 13004:
		return apperrors.ErrorTypeAuthentication
	case 10047, 11098:
		return apperrors.ErrorTypeExchangeUnavailable
	case -32602, 10020:
		return apperrors.ErrorTypeBadRequest
	}
	return apperrors.ErrorTypeExchange
}

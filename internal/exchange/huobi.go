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
	huobiBaseURL   = "https://api.hbdm.com"
	huobiKline     = "/linear-swap-ex/market/history/kline"
	huobiMaxLimit  = 2000
	huobiStatusOK  = "ok"
	huobiRateLimit = 1032
)

var huobiPeriods = map[string]string{
	"1m": "1min", "5m": "5min", "15m": "15min", "30m": "30min",
	"1h": "60min", "4h": "4hour", "1d": "1day", "1w": "1week",
}

// HuobiConnector reads USDT-margined swap candles from the HTX (Huobi)
// derivatives API. Contract codes look like BTC-USDT.
type HuobiConnector struct {
	restConnector
}

// NewHuobiConnector creates the Huobi connector.
func NewHuobiConnector(s Settings) *HuobiConnector {
	s = s.withDefaults(huobiBaseURL, huobiMaxLimit)
	if s.ID == "" {
		s.ID = "huobi"
	}
	return &HuobiConnector{restConnector: newRESTConnector(s)}
}

type huobiBar struct {
	ID     int64               `json:"id"`
	Open   decimal.NullDecimal `json:"open"`
	High   decimal.NullDecimal `json:"high"`
	Low    decimal.NullDecimal `json:"low"`
	Close  decimal.NullDecimal `json:"close"`
	Amount decimal.NullDecimal `json:"amount"` // base currency volume
}

type huobiResponse struct {
	Status  string     `json:"status"`
	ErrCode int        `json:"err_code"`
	ErrMsg  string     `json:"err_msg"`
	Data    []huobiBar `json:"data"`
}

// FetchOHLCV implements Connector.
func (c *HuobiConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	period, ok := huobiPeriods[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, huobiMaxLimit))

	q := url.Values{}
	q.Set("contract_code", req.Symbol)
	q.Set("period", period)
	q.Set("from", strconv.FormatInt(req.Since/1000, 10))
	q.Set("to", strconv.FormatInt((pageEnd(req, limit)-1)/1000, 10))

	var resp huobiResponse
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", huobiKline, q, &resp); err != nil {
		return nil, err
	}
	if resp.Status != huobiStatusOK {
		errType := apperrors.ErrorTypeExchange
		if resp.ErrCode == huobiRateLimit {
			errType = apperrors.ErrorTypeRateLimit
		}
		return nil, apiError(c.id, "fetch_ohlcv", errType, strconv.Itoa(resp.ErrCode), resp.ErrMsg)
	}

	rows := make([]models.RawCandle, 0, len(resp.Data))
	for _, b := range resp.Data {
		rows = append(rows, models.RawCandle{
			OpenTime: b.ID * 1000,
			Open:     toFloat(b.Open),
			High:     toFloat(b.High),
			Low:      toFloat(b.Low),
			Close:    toFloat(b.Close),
			Volume:   toFloat(b.Amount),
		})
	}
	return normalize(rows, req.Since), nil
}

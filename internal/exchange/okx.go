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
	okxBaseURL        = "https://www.okx.com"
	okxHistoryCandles = "/api/v5/market/history-candles"
	okxMaxLimit       = 100
)

// OKX bar sizes. Day and longer bars use the UTC-anchored variants.
var okxBars = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6Hutc", "12h": "12Hutc",
	"1d": "1Dutc", "2d": "2Dutc", "3d": "3Dutc", "1w": "1Wutc",
}

// OKXConnector reads candles from the OKX v5 market API. Instrument ids are
// OKX-native (BTC-USDT, BTC-USDT-SWAP).
type OKXConnector struct {
	restConnector
}

// NewOKXConnector creates the OKX connector.
func NewOKXConnector(s Settings) *OKXConnector {
	s = s.withDefaults(okxBaseURL, okxMaxLimit)
	if s.ID == "" {
		s.ID = "okx"
	}
	return &OKXConnector{restConnector: newRESTConnector(s)}
}

type okxResponse struct {
	Code string                  `json:"code"`
	Msg  string                  `json:"msg"`
	Data [][]decimal.NullDecimal `json:"data"`
}

// FetchOHLCV implements Connector. OKX pages backwards from "after", so the
// page is bounded on both sides: (since-1, since+limit*interval).
func (c *OKXConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	bar, ok := okxBars[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, okxMaxLimit))

	q := url.Values{}
	q.Set("instId", req.Symbol)
	q.Set("bar", bar)
	q.Set("before", strconv.FormatInt(req.Since-1, 10))
	q.Set("after", strconv.FormatInt(pageEnd(req, limit), 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp okxResponse
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", okxHistoryCandles, q, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, apiError(c.id, "fetch_ohlcv", okxErrorType(resp.Code), resp.Code, resp.Msg)
	}

	rows := make([]models.RawCandle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if candle, ok := rowCandle(row, 5); ok {
			rows = append(rows, candle)
		}
	}
	return normalize(rows, req.Since), nil
}

func okxErrorType(code string) apperrors.ErrorType {
	switch code {
	case "50011", "50061":
		return apperrors.ErrorTypeRateLimit
	case "50001", "50004", "50013":
		return apperrors.ErrorTypeExchangeUnavailable
	case "50100", "50101", "50102", "50103", "50104", "50105", "50111", "50113":
		return apperrors.ErrorTypeAuthentication
	case "51000", "51001":
		return apperrors.ErrorTypeBadRequest
	}
	return apperrors.ErrorTypeExchange
}

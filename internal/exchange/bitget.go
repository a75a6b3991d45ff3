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
	bitgetBaseURL        = "https://api.bitget.com"
	bitgetHistoryCandles = "/api/v2/mix/market/history-candles"
	bitgetMaxLimit       = 200
	bitgetProductType    = "USDT-FUTURES"
)

var bitgetGranularity = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "4h": "4H", "6h": "6Hutc", "12h": "12Hutc",
	"1d": "1Dutc", "3d": "3Dutc", "1w": "1Wutc",
}

// BitgetConnector reads mix (futures) candles from the Bitget v2 API. The
// product type defaults to USDT-FUTURES and can be overridden with the
// "productType" request param.
type BitgetConnector struct {
	restConnector
}

// NewBitgetConnector creates the Bitget connector.
func NewBitgetConnector(s Settings) *BitgetConnector {
	s = s.withDefaults(bitgetBaseURL, bitgetMaxLimit)
	if s.ID == "" {
		s.ID = "bitget"
	}
	return &BitgetConnector{restConnector: newRESTConnector(s)}
}

type bitgetResponse struct {
	Code string                  `json:"code"`
	Msg  string                  `json:"msg"`
	Data [][]decimal.NullDecimal `json:"data"`
}

// FetchOHLCV implements Connector.
func (c *BitgetConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	granularity, ok := bitgetGranularity[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, bitgetMaxLimit))

	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("productType", param(req, "productType", bitgetProductType))
	q.Set("granularity", granularity)
	q.Set("startTime", strconv.FormatInt(req.Since, 10))
	q.Set("endTime", strconv.FormatInt(pageEnd(req, limit), 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp bitgetResponse
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", bitgetHistoryCandles, q, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "00000" {
		return nil, apiError(c.id, "fetch_ohlcv", bitgetErrorType(resp.Code), resp.Code, resp.Msg)
	}

	rows := make([]models.RawCandle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if candle, ok := rowCandle(row, 5); ok {
			rows = append(rows, candle)
		}
	}
	return normalize(rows, req.Since), nil
}

func bitgetErrorType(code string) apperrors.ErrorType {
	switch code {
	case "429", "40010":
		return apperrors.ErrorTypeRateLimit
	case "40034", "40019":
		return apperrors.ErrorTypeBadRequest
	case "40006", "40012", "40037":
		return apperrors.ErrorTypeAuthentication
	}
	return apperrors.ErrorTypeExchange
}

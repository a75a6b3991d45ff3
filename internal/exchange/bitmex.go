package exchange

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const (
	bitmexBaseURL   = "https://www.bitmex.com"
	bitmexBucketed  = "/api/v1/trade/bucketed"
	bitmexMaxLimit  = 1000
	bitmexTimeField = "2006-01-02T15:04:05.000Z"
)

// BitMEX only buckets at these sizes.
var bitmexBins = map[string]string{"1m": "1m", "5m": "5m", "1h": "1h", "1d": "1d"}

// BitmexConnector reads bucketed trades from the BitMEX v1 API.
type BitmexConnector struct {
	restConnector
}

// NewBitmexConnector creates the BitMEX connector.
func NewBitmexConnector(s Settings) *BitmexConnector {
	s = s.withDefaults(bitmexBaseURL, bitmexMaxLimit)
	if s.ID == "" {
		s.ID = "bitmex"
	}
	return &BitmexConnector{restConnector: newRESTConnector(s)}
}

type bitmexBucket struct {
	Timestamp time.Time           `json:"timestamp"`
	Open      decimal.NullDecimal `json:"open"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	Close     decimal.NullDecimal `json:"close"`
	Volume    decimal.NullDecimal `json:"volume"`
}

// FetchOHLCV implements Connector. BitMEX stamps a bucket with its close
// time, so the request is shifted forward by one bin and every row back.
func (c *BitmexConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	bin, ok := bitmexBins[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, min(c.pageLimit, bitmexMaxLimit))
	binMs := req.Interval.Milliseconds()

	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("binSize", bin)
	q.Set("startTime", time.UnixMilli(req.Since+binMs).UTC().Format(bitmexTimeField))
	q.Set("count", strconv.Itoa(limit))
	q.Set("partial", param(req, "partial", "false"))
	q.Set("reverse", "false")

	var buckets []bitmexBucket
	if err := c.client.GetJSON(ctx, "fetch_ohlcv", bitmexBucketed, q, &buckets); err != nil {
		return nil, err
	}

	rows := make([]models.RawCandle, 0, len(buckets))
	for _, b := range buckets {
		if b.Timestamp.IsZero() {
			continue
		}
		rows = append(rows, models.RawCandle{
			OpenTime: b.Timestamp.UnixMilli() - binMs,
			Open:     toFloat(b.Open),
			High:     toFloat(b.High),
			Low:      toFloat(b.Low),
			Close:    toFloat(b.Close),
			Volume:   toFloat(b.Volume),
		})
	}
	return normalize(rows, req.Since), nil
}

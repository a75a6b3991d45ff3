package exchange

import (
	"context"
	"log/slog"
	"strings"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const (
	kucoinFuturesBaseURL  = "https://api-futures.kucoin.com"
	kucoinFuturesMaxLimit = 500
)

// KuCoin futures granularity, in minutes.
var kucoinGranularity = map[string]int64{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "2h": 120, "4h": 240, "8h": 480, "12h": 720,
	"1d": 1440, "1w": 10080,
}

// klineSource is the slice of the KuCoin futures market API the connector
// uses.
type klineSource interface {
	GetKlines(req *futuresmarket.GetKlinesReq, ctx context.Context) (*futuresmarket.GetKlinesResp, error)
}

// KucoinConnector reads futures klines through the KuCoin universal SDK
// (XBTUSDTM, ETHUSDTM, ...).
type KucoinConnector struct {
	id         string
	market     klineSource
	limiter    *rate.Limiter
	pageLimit  int
	classifier *apperrors.ErrorClassifier
	logger     *slog.Logger
}

// NewKucoinConnector creates the KuCoin futures connector.
func NewKucoinConnector(s Settings) *KucoinConnector {
	s = s.withDefaults(kucoinFuturesBaseURL, kucoinFuturesMaxLimit)
	if s.ID == "" {
		s.ID = "kucoinfutures"
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetTimeout(s.Timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(s.BaseURL).
		WithTransportOption(transportOpt).
		Build()

	client := sdkapi.NewClient(option)

	return &KucoinConnector{
		id:         s.ID,
		market:     client.RestService().GetFuturesService().GetMarketAPI(),
		limiter:    s.limiter(),
		pageLimit:  min(s.PageLimit, kucoinFuturesMaxLimit),
		classifier: apperrors.NewErrorClassifier(s.Logger),
		logger:     s.Logger.With("component", "exchange", "exchange", s.ID),
	}
}

// ID returns the connector id.
func (c *KucoinConnector) ID() string { return c.id }

// Has reports candle retrieval only.
func (c *KucoinConnector) Has(capability Capability) bool {
	return capability == CapabilityFetchOHLCV
}

// FetchOHLCV implements Connector.
func (c *KucoinConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	granularity, ok := kucoinGranularity[req.Interval.Token]
	if !ok {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	limit := pageLimit(req.Limit, c.pageLimit)

	if err := wait(ctx, c.limiter, c.id, "fetch_ohlcv"); err != nil {
		return nil, err
	}

	klineReq := futuresmarket.NewGetKlinesReqBuilder().
		SetSymbol(req.Symbol).
		SetGranularity(granularity).
		SetFrom(req.Since).
		SetTo(pageEnd(req, limit) - 1).
		Build()

	resp, err := c.market.GetKlines(klineReq, ctx)
	if err != nil {
		if strings.Contains(err.Error(), "429000") {
			return nil, apperrors.New(apperrors.ErrorTypeRateLimit, c.id, "fetch_ohlcv", err)
		}
		return nil, classifySDKError(ctx, c.classifier, c.id, "fetch_ohlcv", err)
	}
	if resp == nil {
		return []models.RawCandle{}, nil
	}

	// [time, open, high, low, close, volume]
	rows := make([]models.RawCandle, 0, len(resp.Data))
	for _, k := range resp.Data {
		if len(k) < 6 {
			continue
		}
		rows = append(rows, models.RawCandle{
			OpenTime: int64(k[0]),
			Open:     k[1],
			High:     k[2],
			Low:      k[3],
			Close:    k[4],
			Volume:   k[5],
		})
	}
	c.logger.DebugContext(ctx, "kline page received", "symbol", req.Symbol, "rows", len(rows))
	return normalize(rows, req.Since), nil
}

package exchange

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/delivery"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const (
	binanceSpotBaseURL  = "https://api.binance.com"
	binanceUSDMBaseURL  = "https://fapi.binance.com"
	binanceCoinMBaseURL = "https://dapi.binance.com"

	binanceSpotMaxLimit    = 1000
	binanceFuturesMaxLimit = 1500
)

var binanceIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true,
}

// binanceMarket is one Binance API host: spot, USDⓈ-M or COIN-M.
type binanceMarket struct {
	id       string
	limiter  *rate.Limiter
	maxLimit int
	klines   func(ctx context.Context, symbol, interval string, since int64, limit int) ([]models.RawCandle, error)
	markets  func(ctx context.Context) ([]models.Market, error)
}

// BinanceConnector reads klines through go-binance. The spot variant talks
// to api.binance.com; the futures variant routes delivery symbols
// (BTCUSD_PERP, BTCUSD_250328) to COIN-M and everything else to USDⓈ-M.
type BinanceConnector struct {
	id         string
	futures    bool
	spot       *binanceMarket
	usdm       *binanceMarket
	coinm      *binanceMarket
	classifier *apperrors.ErrorClassifier
	logger     *slog.Logger
}

// NewBinanceSpotConnector creates the spot connector.
func NewBinanceSpotConnector(s Settings) *BinanceConnector {
	s = s.withDefaults(binanceSpotBaseURL, binanceSpotMaxLimit)
	if s.ID == "" {
		s.ID = "binance"
	}

	client := binance.NewClient("", "")
	client.BaseURL = s.BaseURL
	client.HTTPClient = s.HTTPClient

	return &BinanceConnector{
		id: s.ID,
		spot: &binanceMarket{
			id:       s.ID,
			limiter:  s.limiter(),
			maxLimit: min(s.PageLimit, binanceSpotMaxLimit),
			klines: func(ctx context.Context, symbol, interval string, since int64, limit int) ([]models.RawCandle, error) {
				klines, err := client.NewKlinesService().
					Symbol(symbol).
					Interval(interval).
					StartTime(since).
					Limit(limit).
					Do(ctx)
				if err != nil {
					return nil, err
				}
				rows := make([]models.RawCandle, 0, len(klines))
				for _, k := range klines {
					rows = append(rows, binanceRow(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume))
				}
				return rows, nil
			},
			markets: func(ctx context.Context) ([]models.Market, error) {
				info, err := client.NewExchangeInfoService().Do(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]models.Market, 0, len(info.Symbols))
				for _, sym := range info.Symbols {
					out = append(out, models.Market{
						Symbol:     sym.Symbol,
						BaseAsset:  sym.BaseAsset,
						QuoteAsset: sym.QuoteAsset,
						Status:     sym.Status,
					})
				}
				return out, nil
			},
		},
		classifier: apperrors.NewErrorClassifier(s.Logger),
		logger:     s.Logger.With("component", "exchange", "exchange", s.ID),
	}
}

// NewBinanceFuturesConnector creates the futures connector from the USDⓈ-M
// and COIN-M host settings.
func NewBinanceFuturesConnector(usdm, coinm Settings) *BinanceConnector {
	usdm = usdm.withDefaults(binanceUSDMBaseURL, binanceFuturesMaxLimit)
	coinm = coinm.withDefaults(binanceCoinMBaseURL, binanceFuturesMaxLimit)
	if usdm.ID == "" {
		usdm.ID = "binanceusdm"
	}
	if coinm.ID == "" {
		coinm.ID = "binancecoinm"
	}

	usdmClient := futures.NewClient("", "")
	usdmClient.BaseURL = usdm.BaseURL
	usdmClient.HTTPClient = usdm.HTTPClient

	coinmClient := delivery.NewClient("", "")
	coinmClient.BaseURL = coinm.BaseURL
	coinmClient.HTTPClient = coinm.HTTPClient

	return &BinanceConnector{
		id:      "binance_futures",
		futures: true,
		usdm: &binanceMarket{
			id:       usdm.ID,
			limiter:  usdm.limiter(),
			maxLimit: min(usdm.PageLimit, binanceFuturesMaxLimit),
			klines: func(ctx context.Context, symbol, interval string, since int64, limit int) ([]models.RawCandle, error) {
				klines, err := usdmClient.NewKlinesService().
					Symbol(symbol).
					Interval(interval).
					StartTime(since).
					Limit(limit).
					Do(ctx)
				if err != nil {
					return nil, err
				}
				rows := make([]models.RawCandle, 0, len(klines))
				for _, k := range klines {
					rows = append(rows, binanceRow(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume))
				}
				return rows, nil
			},
			markets: func(ctx context.Context) ([]models.Market, error) {
				info, err := usdmClient.NewExchangeInfoService().Do(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]models.Market, 0, len(info.Symbols))
				for _, sym := range info.Symbols {
					out = append(out, models.Market{
						Symbol:     sym.Symbol,
						BaseAsset:  sym.BaseAsset,
						QuoteAsset: sym.QuoteAsset,
						Status:     sym.Status,
						Contract:   true,
					})
				}
				return out, nil
			},
		},
		coinm: &binanceMarket{
			id:       coinm.ID,
			limiter:  coinm.limiter(),
			maxLimit: min(coinm.PageLimit, binanceFuturesMaxLimit),
			klines: func(ctx context.Context, symbol, interval string, since int64, limit int) ([]models.RawCandle, error) {
				klines, err := coinmClient.NewKlinesService().
					Symbol(symbol).
					Interval(interval).
					StartTime(since).
					Limit(limit).
					Do(ctx)
				if err != nil {
					return nil, err
				}
				rows := make([]models.RawCandle, 0, len(klines))
				for _, k := range klines {
					rows = append(rows, binanceRow(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume))
				}
				return rows, nil
			},
			markets: func(ctx context.Context) ([]models.Market, error) {
				info, err := coinmClient.NewExchangeInfoService().Do(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]models.Market, 0, len(info.Symbols))
				for _, sym := range info.Symbols {
					out = append(out, models.Market{
						Symbol:     sym.Symbol,
						BaseAsset:  sym.BaseAsset,
						QuoteAsset: sym.QuoteAsset,
						Status:     sym.ContractStatus,
						Contract:   true,
					})
				}
				return out, nil
			},
		},
		classifier: apperrors.NewErrorClassifier(usdm.Logger),
		logger:     usdm.Logger.With("component", "exchange", "exchange", "binance_futures"),
	}
}

// ID returns binance or binance_futures.
func (c *BinanceConnector) ID() string { return c.id }

// Has reports candle retrieval and market listing.
func (c *BinanceConnector) Has(capability Capability) bool {
	return capability == CapabilityFetchOHLCV || capability == CapabilityFetchMarkets
}

func (c *BinanceConnector) route(symbol string) *binanceMarket {
	if !c.futures {
		return c.spot
	}
	if strings.Contains(symbol, "_") {
		return c.coinm
	}
	return c.usdm
}

// FetchOHLCV implements Connector.
func (c *BinanceConnector) FetchOHLCV(ctx context.Context, req CandleRequest) ([]models.RawCandle, error) {
	if !binanceIntervals[req.Interval.Token] {
		return nil, unsupportedInterval(c.id, req.Interval)
	}
	market := c.route(req.Symbol)

	if err := wait(ctx, market.limiter, market.id, "fetch_ohlcv"); err != nil {
		return nil, err
	}

	rows, err := market.klines(ctx, req.Symbol, req.Interval.Token, req.Since, pageLimit(req.Limit, market.maxLimit))
	if err != nil {
		return nil, c.classify(ctx, market.id, "fetch_ohlcv", err)
	}
	c.logger.DebugContext(ctx, "klines page received", "host", market.id, "symbol", req.Symbol, "rows", len(rows))
	return normalize(rows, req.Since), nil
}

// Markets implements MarketLister. The futures variant lists both USDⓈ-M
// and COIN-M contracts.
func (c *BinanceConnector) Markets(ctx context.Context) ([]models.Market, error) {
	hosts := []*binanceMarket{c.spot}
	if c.futures {
		hosts = []*binanceMarket{c.usdm, c.coinm}
	}

	var out []models.Market
	for _, m := range hosts {
		if err := wait(ctx, m.limiter, m.id, "fetch_markets"); err != nil {
			return nil, err
		}
		markets, err := m.markets(ctx)
		if err != nil {
			return nil, c.classify(ctx, m.id, "fetch_markets", err)
		}
		out = append(out, markets...)
	}
	return out, nil
}

func (c *BinanceConnector) classify(ctx context.Context, component, operation string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apperrors.Newf(binanceErrorType(apiErr.Code), component, operation,
			"binance error %s: %s", strconv.FormatInt(apiErr.Code, 10), apiErr.Message)
	}
	return classifySDKError(ctx, c.classifier, component, operation, err)
}

func binanceErrorType(code int64) apperrors.ErrorType {
	switch {
	case code == -1003 || code == -1015:
		return apperrors.ErrorTypeRateLimit
	case code == -1000 || code == -1001 || code == -1007 || code == -1008:
		return apperrors.ErrorTypeExchangeUnavailable
	case code == -1002 || code == -2014 || code == -2015:
		return apperrors.ErrorTypeAuthentication
	case code <= -1100 && code >= -1199:
		return apperrors.ErrorTypeBadRequest
	}
	return apperrors.ErrorTypeExchange
}

func binanceRow(openTime int64, open, high, low, close, volume string) models.RawCandle {
	return models.RawCandle{
		OpenTime: openTime,
		Open:     parseFloat(open),
		High:     parseFloat(high),
		Low:      parseFloat(low),
		Close:    parseFloat(close),
		Volume:   parseFloat(volume),
	}
}

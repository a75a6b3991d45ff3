package exchange

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const binanceKlines = `[
	[1704067200000,"42000.00","42150.00","41900.00","42100.00","10.5",1704070799999,"441000",100,"5","210000","0"],
	[1704070800000,"42100.00","42300.00","42000.00","42200.00","12.0",1704074399999,"506000",120,"6","253000","0"]
]`

func TestBinanceSpotFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1h", q.Get("interval"))
		assert.Equal(t, "1704067200000", q.Get("startTime"))
		assert.Equal(t, "1000", q.Get("limit"))
		_, _ = io.WriteString(w, binanceKlines)
	})

	conn := NewBinanceSpotConnector(s)
	assert.True(t, conn.Has(CapabilityFetchOHLCV))
	assert.True(t, conn.Has(CapabilityFetchMarkets))

	rows, err := conn.FetchOHLCV(context.Background(), hourRequest(t, "BTCUSDT"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.RawCandle{OpenTime: jan1, Open: 42000, High: 42150, Low: 41900, Close: 42100, Volume: 10.5}, rows[0])
}

func TestBinanceFuturesRouting(t *testing.T) {
	var paths []string
	handler := func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, binanceKlines)
	}
	usdm := testServer(t, handler)
	coinm := testServer(t, handler)

	conn := NewBinanceFuturesConnector(usdm, coinm)

	_, err := conn.FetchOHLCV(context.Background(), hourRequest(t, "BTCUSDT"))
	require.NoError(t, err)
	_, err = conn.FetchOHLCV(context.Background(), hourRequest(t, "BTCUSD_PERP"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/fapi/v1/klines", "/dapi/v1/klines"}, paths)
}

func TestBinanceAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType apperrors.ErrorType
	}{
		{"too many requests", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests."}`, apperrors.ErrorTypeRateLimit},
		{"invalid symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, apperrors.ErrorTypeBadRequest},
		{"internal error", http.StatusInternalServerError, `{"code":-1001,"msg":"Internal error."}`, apperrors.ErrorTypeExchangeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := NewBinanceSpotConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTCUSDT"))
			require.Error(t, err)
			assert.Equal(t, tt.wantType, apperrors.GetErrorType(err))
		})
	}
}

func TestBinanceSpotMarkets(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		_, _ = io.WriteString(w, `{"timezone":"UTC","serverTime":1,"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC"}
		]}`)
	})

	markets, err := NewBinanceSpotConnector(s).Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, models.Market{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING"}, markets[0])
}

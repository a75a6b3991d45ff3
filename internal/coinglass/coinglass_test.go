package coinglass

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Options{BaseURL: server.URL, APIKey: "test-key", Logger: createTestLogger()})
}

func TestSupportedExchangePairs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/supported-exchange-pairs", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("CG-API-KEY"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"success","data":{
			"Binance":[{"instrumentId":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT"},{"instrumentId":"ETHUSDT","baseAsset":"ETH","quoteAsset":"USDT"}],
			"OKX":[{"instrumentId":"BTC-USDT-SWAP","baseAsset":"BTC","quoteAsset":"USDT"}]}}`))
	})

	pairs, err := client.SupportedExchangePairs(context.Background())
	require.NoError(t, err)

	require.Len(t, pairs["Binance"], 2)
	assert.Equal(t, models.Instrument{ID: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"}, pairs["Binance"][0])
	assert.Equal(t, "BTC-USDT-SWAP", pairs["OKX"][0].ID)
}

func TestHistory_DecodesPoints(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openInterest/ohlc-history", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Binance", q.Get("exchange"))
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1h", q.Get("interval"))
		assert.Equal(t, "1704067200", q.Get("startTime"))
		assert.Equal(t, "1704153600", q.Get("endTime"))
		assert.Equal(t, "4500", q.Get("limit"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"success","data":[
			{"t":1704067200,"o":"100.5","h":"101","l":"99.5","c":"100"},
			{"t":1704070800,"o":100,"h":102,"l":null,"c":"101"}]}`))
	})

	levels, err := client.OpenInterestHistory(context.Background(), HistoryRequest{
		Exchange:  "Binance",
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		StartTime: 1704067200,
		EndTime:   1704153600,
	})
	require.NoError(t, err)
	require.Len(t, levels, 2)

	assert.Equal(t, int64(1704067200), levels[0].Time)
	assert.Equal(t, 100.5, levels[0].Open)
	assert.Equal(t, 99.5, levels[0].Low)
	assert.Equal(t, 102.0, levels[1].High)
	assert.True(t, math.IsNaN(levels[1].Low))
}

func TestHistory_FundingRateEndpoint(t *testing.T) {
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"code":"0","data":[]}`))
	})

	levels, err := client.FundingRateHistory(context.Background(), HistoryRequest{Exchange: "OKX", Symbol: "BTC-USDT-SWAP", Interval: "8h", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, levels)
	assert.Equal(t, "/fundingRate/ohlc-history", path)
}

func TestHistory_EnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want apperrors.ErrorType
	}{
		{"auth", `{"code":"30001","msg":"API key missing"}`, apperrors.ErrorTypeAuthentication},
		{"rate", `{"code":"50001","msg":"Too Many Requests"}`, apperrors.ErrorTypeRateLimit},
		{"unsupported symbol", `{"code":"40001","msg":"symbol not supported"}`, apperrors.ErrorTypeBadRequest},
		{"numeric code", `{"code":40001,"msg":"bad interval"}`, apperrors.ErrorTypeBadRequest},
		{"invalid param", `{"code":"10002","msg":"Invalid parameter: interval"}`, apperrors.ErrorTypeBadRequest},
		{"other", `{"code":"20005","msg":"upstream busy"}`, apperrors.ErrorTypeExchange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.History(context.Background(), models.FundingRate, HistoryRequest{Exchange: "Binance", Symbol: "BTCUSDT", Interval: "1h"})
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.GetErrorType(err))
		})
	}
}

func TestSupportedExchangePairs_HTTPFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.SupportedExchangePairs(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeAuthentication, apperrors.GetErrorType(err))
}

package exchange

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// 2024-01-01T00:00:00Z
const jan1 = int64(1704067200000)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, handler http.HandlerFunc) Settings {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return Settings{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: testLogger()}
}

func hourRequest(t *testing.T, symbol string) CandleRequest {
	t.Helper()
	interval, err := models.ParseInterval("1h")
	require.NoError(t, err)
	return CandleRequest{Symbol: symbol, Interval: interval, Since: jan1}
}

func openTimes(rows []models.RawCandle) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.OpenTime
	}
	return out
}

func TestOKXFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, okxHistoryCandles, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTC-USDT-SWAP", q.Get("instId"))
		assert.Equal(t, "1H", q.Get("bar"))
		assert.Equal(t, "1704067199999", q.Get("before"))
		assert.Equal(t, "1704427200000", q.Get("after"))
		assert.Equal(t, "100", q.Get("limit"))

		_, _ = io.WriteString(w, `{"code":"0","msg":"","data":[
			["1704070800000","42100","42300","42000","42200","12.5","1","1","1"],
			["1704067200000","42000","42150","41900","42100","10","1","1","1"]
		]}`)
	})

	rows, err := NewOKXConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-USDT-SWAP"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, models.RawCandle{OpenTime: jan1, Open: 42000, High: 42150, Low: 41900, Close: 42100, Volume: 10}, rows[0])
}

func TestOKXErrorCodes(t *testing.T) {
	tests := []struct {
		code      string
		wantType  apperrors.ErrorType
		retryable bool
	}{
		{"50011", apperrors.ErrorTypeRateLimit, true},
		{"51001", apperrors.ErrorTypeBadRequest, false},
		{"50001", apperrors.ErrorTypeExchangeUnavailable, true},
		{"59999", apperrors.ErrorTypeExchange, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"code":"`+tt.code+`","msg":"rejected","data":[]}`)
			})

			_, err := NewOKXConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-USDT"))
			require.Error(t, err)
			assert.Equal(t, tt.wantType, apperrors.GetErrorType(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestBitgetFetchOHLCV(t *testing.T) {
	var productType, symbol string
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, bitgetHistoryCandles, r.URL.Path)
		q := r.URL.Query()
		productType = q.Get("productType")
		symbol = q.Get("symbol")
		assert.Equal(t, "1H", q.Get("granularity"))
		assert.Equal(t, "1704067200000", q.Get("startTime"))
		assert.Equal(t, "200", q.Get("limit"))

		_, _ = io.WriteString(w, `{"code":"00000","msg":"success","data":[
			["1704067200000","42000","42150","41900","42100","10","420000"],
			["1704070800000","42100","42300","42000","42200","12","505000"]
		]}`)
	})

	conn := NewBitgetConnector(s)
	rows, err := conn.FetchOHLCV(context.Background(), hourRequest(t, "BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, bitgetProductType, productType)
	assert.Equal(t, "BTCUSDT", symbol)

	req := hourRequest(t, "BTCUSD")
	req.Params = map[string]string{"productType": "COIN-FUTURES"}
	_, err = conn.FetchOHLCV(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "COIN-FUTURES", productType)
	assert.Equal(t, "BTCUSD", symbol)
}

func TestBitmexShiftsCloseStampedBuckets(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, bitmexBucketed, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "XBTUSD", q.Get("symbol"))
		assert.Equal(t, "1h", q.Get("binSize"))
		assert.Equal(t, "2024-01-01T01:00:00.000Z", q.Get("startTime"))
		assert.Equal(t, "false", q.Get("reverse"))

		_, _ = io.WriteString(w, `[
			{"timestamp":"2024-01-01T01:00:00.000Z","symbol":"XBTUSD","open":42000,"high":42150,"low":41900,"close":42100,"volume":1000},
			{"timestamp":"2024-01-01T02:00:00.000Z","symbol":"XBTUSD","open":42100,"high":42300,"low":42000,"close":null,"volume":900}
		]`)
	})

	rows, err := NewBitmexConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "XBTUSD"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, 42100.0, rows[0].Close)
	assert.True(t, math.IsNaN(rows[1].Close))
}

func TestBitmexRejectsUnsupportedBin(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	req := hourRequest(t, "XBTUSD")
	req.Interval, _ = models.ParseInterval("4h")

	_, err := NewBitmexConnector(s).FetchOHLCV(context.Background(), req)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInterval)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestKrakenFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, krakenOHLC, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "XBTUSD", q.Get("pair"))
		assert.Equal(t, "60", q.Get("interval"))
		assert.Equal(t, "1704067199", q.Get("since"))

		_, _ = io.WriteString(w, `{"error":[],"result":{
			"XXBTZUSD":[
				[1704063600,"41900","42000","41800","42000","41950","5.0",100],
				[1704067200,"42000","42150","41900","42100","42050","7.5",120],
				[1704070800,"42100","42300","42000","42200","42150","8.0",130]
			],
			"last":1704070800
		}}`)
	})

	rows, err := NewKrakenConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "XBTUSD"))
	require.NoError(t, err)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, 7.5, rows[0].Volume)
}

func TestKrakenErrors(t *testing.T) {
	tests := []struct {
		msg      string
		wantType apperrors.ErrorType
	}{
		{"EAPI:Rate limit exceeded", apperrors.ErrorTypeRateLimit},
		{"EQuery:Unknown asset pair", apperrors.ErrorTypeBadRequest},
		{"EService:Unavailable", apperrors.ErrorTypeExchangeUnavailable},
		{"EGeneral:Internal error", apperrors.ErrorTypeExchange},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"error":["`+tt.msg+`"]}`)
			})

			_, err := NewKrakenConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "XBTUSD"))
			require.Error(t, err)
			assert.Equal(t, tt.wantType, apperrors.GetErrorType(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestKrakenFuturesFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/charts/v1/trade/PF_XBTUSD/1h", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1704067200", q.Get("from"))
		assert.Equal(t, "1711267199", q.Get("to"))

		_, _ = io.WriteString(w, `{"candles":[
			{"time":1704067200000,"open":"42000","high":"42150","low":"41900","close":"42100","volume":"10"},
			{"time":1704070800000,"open":"42100","high":"42300","low":"42000","close":"42200","volume":"12"}
		],"more_candles":false}`)
	})

	rows, err := NewKrakenFuturesConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "PF_XBTUSD"))
	require.NoError(t, err)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, 42200.0, rows[1].Close)
}

func TestDeribitFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, deribitChartData, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTC-PERPETUAL", q.Get("instrument_name"))
		assert.Equal(t, "60", q.Get("resolution"))
		assert.Equal(t, "1704067200000", q.Get("start_timestamp"))

		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","result":{
			"ticks":[1704067200000,1704070800000],
			"open":[42000,42100],"high":[42150,42300],"low":[41900,42000],
			"close":[42100,42200],"volume":[10.5,12],"cost":[1,1],"status":"ok"
		}}`)
	})

	rows, err := NewDeribitConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-PERPETUAL"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.RawCandle{OpenTime: jan1, Open: 42000, High: 42150, Low: 41900, Close: 42100, Volume: 10.5}, rows[0])
}

func TestDeribitNoDataAndErrors(t *testing.T) {
	t.Run("no data", func(t *testing.T) {
		s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","result":{"ticks":[],"status":"no_data"}}`)
		})
		rows, err := NewDeribitConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-PERPETUAL"))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("too many requests", func(t *testing.T) {
		s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","error":{"code":10028,"message":"too_many_requests"}}`)
		})
		_, err := NewDeribitConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-PERPETUAL"))
		assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetErrorType(err))
	})
}

func TestHuobiFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, huobiKline, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTC-USDT", q.Get("contract_code"))
		assert.Equal(t, "60min", q.Get("period"))
		assert.Equal(t, "1704067200", q.Get("from"))

		_, _ = io.WriteString(w, `{"ch":"market.BTC-USDT.kline.60min","status":"ok","ts":1,"data":[
			{"id":1704067200,"open":42000,"close":42100,"low":41900,"high":42150,"amount":3.5,"vol":350,"count":10},
			{"id":1704070800,"open":42100,"close":42200,"low":42000,"high":42300,"amount":4,"vol":400,"count":12}
		]}`)
	})

	rows, err := NewHuobiConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-USDT"))
	require.NoError(t, err)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, 3.5, rows[0].Volume)
}

func TestHuobiErrorStatus(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"error","err_code":1032,"err_msg":"The number of access exceeded the limit.","ts":1}`)
	})

	_, err := NewHuobiConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTC-USDT"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetErrorType(err))
}

func TestRESTConnectorHTTPFailures(t *testing.T) {
	tests := []struct {
		status   int
		wantType apperrors.ErrorType
	}{
		{http.StatusServiceUnavailable, apperrors.ErrorTypeExchangeUnavailable},
		{http.StatusTooManyRequests, apperrors.ErrorTypeRateLimit},
		{http.StatusUnauthorized, apperrors.ErrorTypeAuthentication},
		{http.StatusBadRequest, apperrors.ErrorTypeExchange},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
			})

			_, err := NewBitmexConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "XBTUSD"))
			require.Error(t, err)
			assert.Equal(t, tt.wantType, apperrors.GetErrorType(err))
		})
	}
}

func TestNormalize(t *testing.T) {
	rows := []models.RawCandle{
		{OpenTime: 3000, Close: 3},
		{OpenTime: 1000, Close: 1},
		{OpenTime: 2000, Close: 2},
		{OpenTime: 2000, Close: 99},
		{OpenTime: 500, Close: 0},
	}

	out := normalize(rows, 1000)
	assert.Equal(t, []int64{1000, 2000, 3000}, openTimes(out))
	assert.Equal(t, 2.0, out[1].Close)
}

package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

func TestBybitFetchOHLCV(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "linear", q.Get("category"))
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "60", q.Get("interval"))

		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","symbol":"BTCUSDT","list":[
			["1704070800000","42100","42300","42000","42200","12","505000"],
			["1704067200000","42000","42150","41900","42100","10","420000"]
		]},"retExtInfo":{},"time":1704070900000}`)
	})

	rows, err := NewBybitConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, 10.0, rows[0].Volume)
}

func TestBybitRetCode(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"retCode":10006,"retMsg":"Too many visits!","result":{},"retExtInfo":{},"time":1}`)
	})

	_, err := NewBybitConnector(s).FetchOHLCV(context.Background(), hourRequest(t, "BTCUSDT"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetErrorType(err))
}

type fakeKlineSource struct {
	req  *futuresmarket.GetKlinesReq
	resp *futuresmarket.GetKlinesResp
	err  error
}

func (f *fakeKlineSource) GetKlines(req *futuresmarket.GetKlinesReq, ctx context.Context) (*futuresmarket.GetKlinesResp, error) {
	f.req = req
	return f.resp, f.err
}

func newTestKucoin(src klineSource) *KucoinConnector {
	return &KucoinConnector{
		id:         "kucoinfutures",
		market:     src,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		pageLimit:  200,
		classifier: apperrors.NewErrorClassifier(testLogger()),
		logger:     testLogger(),
	}
}

func TestKucoinFetchOHLCV(t *testing.T) {
	src := &fakeKlineSource{resp: &futuresmarket.GetKlinesResp{Data: [][]float64{
		{1704070800000, 42100, 42300, 42000, 42200, 1200},
		{1704067200000, 42000, 42150, 41900, 42100, 1000},
		{1704063600000, 41900, 42000, 41800, 42000, 900},
	}}}

	rows, err := newTestKucoin(src).FetchOHLCV(context.Background(), hourRequest(t, "XBTUSDTM"))
	require.NoError(t, err)
	assert.Equal(t, []int64{jan1, jan1 + 3600000}, openTimes(rows))
	assert.Equal(t, models.RawCandle{OpenTime: jan1, Open: 42000, High: 42150, Low: 41900, Close: 42100, Volume: 1000}, rows[0])

	assert.NotNil(t, src.req)
}

func TestKucoinErrors(t *testing.T) {
	src := &fakeKlineSource{err: errors.New("server returned code 429000: Too Many Requests")}
	_, err := newTestKucoin(src).FetchOHLCV(context.Background(), hourRequest(t, "XBTUSDTM"))
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetErrorType(err))

	src = &fakeKlineSource{err: errors.New("contract does not exist")}
	_, err = newTestKucoin(src).FetchOHLCV(context.Background(), hourRequest(t, "NOPE"))
	assert.Equal(t, apperrors.ErrorTypeExchange, apperrors.GetErrorType(err))
}

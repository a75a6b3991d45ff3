package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

type stubConnector struct {
	id   string
	caps map[Capability]bool
}

func (s *stubConnector) ID() string            { return s.id }
func (s *stubConnector) Has(c Capability) bool { return s.caps[c] }
func (s *stubConnector) FetchOHLCV(context.Context, CandleRequest) ([]models.RawCandle, error) {
	return nil, nil
}

func TestDefaultRegistryNames(t *testing.T) {
	r := DefaultRegistry(config.DefaultConfig(), testLogger())
	assert.Equal(t, []string{"Binance", "Bitget", "Bitmex", "Bybit", "Deribit", "Huobi", "Kraken", "KuCoin", "OKX"}, r.Names())
}

func TestDefaultRegistryResolve(t *testing.T) {
	r := DefaultRegistry(nil, testLogger())

	tests := []struct {
		name    string
		futures bool
		wantID  string
	}{
		{Binance, false, "binance"},
		{Binance, true, "binance_futures"},
		{Kraken, false, "kraken"},
		{Kraken, true, "krakenfutures"},
		{OKX, false, "okx"},
		{OKX, true, "okx"},
		{Bybit, true, "bybit"},
		{Bitget, false, "bitget"},
		{Bitmex, false, "bitmex"},
		{Deribit, false, "deribit"},
		{Huobi, false, "huobi"},
		{KuCoin, false, "kucoinfutures"},
	}

	for _, tt := range tests {
		t.Run(tt.wantID, func(t *testing.T) {
			conn, err := r.Resolve(tt.name, tt.futures)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, conn.ID())
			assert.True(t, conn.Has(CapabilityFetchOHLCV))
		})
	}
}

func TestResolveUnknownExchange(t *testing.T) {
	r := DefaultRegistry(nil, testLogger())

	_, err := r.Resolve("Coinbase", false)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedExchange)

	_, err = r.Resolve("binance", false)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedExchange)
}

func TestResolveCachesInstances(t *testing.T) {
	builds := 0
	r := NewRegistry()
	r.Register("Stub", Variant{Spot: func() Connector {
		builds++
		return &stubConnector{id: "stub", caps: map[Capability]bool{CapabilityFetchOHLCV: true}}
	}})

	first, err := r.Resolve("Stub", false)
	require.NoError(t, err)
	second, err := r.Resolve("Stub", true)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
}

func TestResolveRequiresOHLCVCapability(t *testing.T) {
	r := NewRegistry()
	r.Register("NoCandles", Variant{Spot: func() Connector {
		return &stubConnector{id: "nocandles", caps: map[Capability]bool{CapabilityFetchMarkets: true}}
	}})

	_, err := r.Resolve("NoCandles", false)
	assert.ErrorIs(t, err, apperrors.ErrCapabilityUnsupported)
}

func TestResolveFuturesOnlyExchange(t *testing.T) {
	r := NewRegistry()
	r.Register("Perps", Variant{Futures: func() Connector {
		return &stubConnector{id: "perps", caps: map[Capability]bool{CapabilityFetchOHLCV: true}}
	}})

	conn, err := r.Resolve("Perps", false)
	require.NoError(t, err)
	assert.Equal(t, "perps", conn.ID())
}

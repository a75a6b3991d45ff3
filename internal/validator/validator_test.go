package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

type fakePairSource struct {
	snapshot map[string][]models.Instrument
	err      error
	calls    int
}

func (f *fakePairSource) SupportedExchangePairs(ctx context.Context) (map[string][]models.Instrument, error) {
	f.calls++
	return f.snapshot, f.err
}

func TestIndexIsSupported(t *testing.T) {
	idx := NewIndex(map[string][]models.Instrument{
		"Binance": {{ID: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"}},
	})

	tests := []struct {
		name       string
		exchange   string
		instrument string
		want       bool
	}{
		{"listed instrument", "Binance", "BTCUSDT", true},
		{"unlisted instrument", "Binance", "ETHUSDT", false},
		{"unknown exchange", "Unknown", "BTCUSDT", false},
		{"exchange names are exact", "binance", "BTCUSDT", false},
		{"empty instrument", "Binance", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idx.IsSupported(tt.exchange, tt.instrument))
		})
	}
}

func TestNilIndex(t *testing.T) {
	var idx *Index
	assert.False(t, idx.IsSupported("Binance", "BTCUSDT"))
	assert.Nil(t, idx.Search("Binance", "BTC"))
	assert.Nil(t, idx.Exchanges())
	assert.Zero(t, idx.Len("Binance"))
}

func TestLoadIndex(t *testing.T) {
	t.Run("builds from snapshot", func(t *testing.T) {
		src := &fakePairSource{snapshot: map[string][]models.Instrument{
			"OKX":     {{ID: "BTC-USDT-SWAP"}},
			"Binance": {{ID: "BTCUSDT"}, {ID: "BTCUSDT"}, {ID: ""}},
		}}

		idx, err := LoadIndex(context.Background(), src)
		require.NoError(t, err)
		assert.Equal(t, 1, src.calls)
		assert.Equal(t, []string{"Binance", "OKX"}, idx.Exchanges())
		assert.Equal(t, 1, idx.Len("Binance"))
		assert.True(t, idx.IsSupported("OKX", "BTC-USDT-SWAP"))
	})

	t.Run("source failure is fatal", func(t *testing.T) {
		src := &fakePairSource{err: errors.New("connection refused")}

		idx, err := LoadIndex(context.Background(), src)
		require.Error(t, err)
		assert.Nil(t, idx)
		assert.ErrorIs(t, err, apperrors.ErrValidationUnavailable)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := LoadIndex(context.Background(), nil)
		assert.ErrorIs(t, err, apperrors.ErrValidationUnavailable)
	})
}

func TestIndexSearch(t *testing.T) {
	idx := NewIndex(map[string][]models.Instrument{
		"Binance": {{ID: "BTCUSDT"}, {ID: "ETHUSDT"}, {ID: "BTCUSD_PERP"}},
	})

	found := idx.Search("Binance", "btc")
	require.Len(t, found, 2)
	assert.Equal(t, "BTCUSDT", found[0].ID)
	assert.Equal(t, "BTCUSD_PERP", found[1].ID)

	assert.Len(t, idx.Search("Binance", ""), 3)
	assert.Empty(t, idx.Search("Binance", "SOL"))
	assert.Empty(t, idx.Search("Bybit", "BTC"))
}

func TestIndexIsImmutable(t *testing.T) {
	snapshot := map[string][]models.Instrument{"Binance": {{ID: "BTCUSDT"}}}
	idx := NewIndex(snapshot)

	snapshot["Binance"] = append(snapshot["Binance"], models.Instrument{ID: "ETHUSDT"})
	snapshot["Bybit"] = []models.Instrument{{ID: "BTCUSDT"}}

	assert.False(t, idx.IsSupported("Binance", "ETHUSDT"))
	assert.False(t, idx.IsSupported("Bybit", "BTCUSDT"))

	exchanges := idx.Exchanges()
	exchanges[0] = "changed"
	assert.Equal(t, []string{"Binance"}, idx.Exchanges())
}

package exchange

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
)

// Exchange names accepted by the default registry. They match the exchange
// names used by the CoinGlass snapshot.
const (
	Binance = "Binance"
	Bybit   = "Bybit"
	Bitget  = "Bitget"
	Bitmex  = "Bitmex"
	Deribit = "Deribit"
	Huobi   = "Huobi"
	Kraken  = "Kraken"
	KuCoin  = "KuCoin"
	OKX     = "OKX"
)

// Factory builds a connector. It is called at most once per registry entry
// and variant.
type Factory func() Connector

// Variant holds the connector factories of one exchange. Exchanges without a
// distinct futures market leave Futures nil and serve both flags from Spot.
type Variant struct {
	Spot    Factory
	Futures Factory
}

// Registry maps exchange names to connector factories and caches the
// connectors it builds so their rate limiters persist across calls. It is
// safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	variants  map[string]Variant
	instances map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		variants:  make(map[string]Variant),
		instances: make(map[string]Connector),
	}
}

// Register adds or replaces an exchange. Cached connectors of a replaced
// exchange are dropped.
func (r *Registry) Register(name string, v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.variants[name] = v
	delete(r.instances, cacheKey(name, false))
	delete(r.instances, cacheKey(name, true))
}

// Names returns the registered exchange names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the connector for name. futures selects the futures
// variant where the exchange has one. The connector must be able to fetch
// candles.
func (r *Registry) Resolve(name string, futures bool) (Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedExchange, name)
	}

	factory := v.Spot
	useFutures := futures && v.Futures != nil
	if useFutures || factory == nil {
		factory = v.Futures
		useFutures = true
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %q has no connector", apperrors.ErrUnsupportedExchange, name)
	}

	key := cacheKey(name, useFutures)
	conn, ok := r.instances[key]
	if !ok {
		conn = factory()
		r.instances[key] = conn
	}

	if !conn.Has(CapabilityFetchOHLCV) {
		return nil, fmt.Errorf("%w: %s connector %q cannot fetch OHLCV", apperrors.ErrCapabilityUnsupported, name, conn.ID())
	}
	return conn, nil
}

func cacheKey(name string, futures bool) string {
	if futures {
		return name + "/futures"
	}
	return name + "/spot"
}

// DefaultRegistry registers every supported exchange using the per-connector
// settings of cfg. A nil cfg uses config.DefaultExchanges.
func DefaultRegistry(cfg *config.AppConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	settings := func(id string) Settings {
		var ec config.ExchangeConfig
		var ok bool
		if cfg != nil {
			ec, ok = cfg.Exchange(id)
		}
		if !ok {
			ec = config.DefaultExchanges()[id]
		}
		return SettingsFromConfig(id, ec, logger)
	}

	r := NewRegistry()
	r.Register(Binance, Variant{
		Spot: func() Connector { return NewBinanceSpotConnector(settings("binance")) },
		Futures: func() Connector {
			return NewBinanceFuturesConnector(settings("binanceusdm"), settings("binancecoinm"))
		},
	})
	r.Register(Kraken, Variant{
		Spot:    func() Connector { return NewKrakenConnector(settings("kraken")) },
		Futures: func() Connector { return NewKrakenFuturesConnector(settings("krakenfutures")) },
	})
	r.Register(Bybit, Variant{Spot: func() Connector { return NewBybitConnector(settings("bybit")) }})
	r.Register(Bitget, Variant{Spot: func() Connector { return NewBitgetConnector(settings("bitget")) }})
	r.Register(Bitmex, Variant{Spot: func() Connector { return NewBitmexConnector(settings("bitmex")) }})
	r.Register(Deribit, Variant{Spot: func() Connector { return NewDeribitConnector(settings("deribit")) }})
	r.Register(Huobi, Variant{Spot: func() Connector { return NewHuobiConnector(settings("huobi")) }})
	r.Register(KuCoin, Variant{Spot: func() Connector { return NewKucoinConnector(settings("kucoinfutures")) }})
	r.Register(OKX, Variant{Spot: func() Connector { return NewOKXConnector(settings("okx")) }})

	return r
}

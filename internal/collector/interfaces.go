package collector

import (
	"context"
	"fmt"

	"github.com/johnayoung/go-derivs-collector/internal/coinglass"
	"github.com/johnayoung/go-derivs-collector/internal/exchange"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// LevelSource serves pages of open interest and funding rate history.
// *coinglass.Client implements it.
type LevelSource interface {
	History(ctx context.Context, kind models.LevelKind, req coinglass.HistoryRequest) ([]models.RawLevel, error)
}

// ConnectorResolver maps an exchange name to a candle connector.
// *exchange.Registry implements it.
type ConnectorResolver interface {
	Resolve(name string, futures bool) (exchange.Connector, error)
}

// CollectionError reports which series of a GetAll call failed.
type CollectionError struct {
	Series     string // candles, open_interest or funding_rate
	Exchange   string
	Instrument string
	Err        error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s for %s on %s: %v", e.Series, e.Instrument, e.Exchange, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

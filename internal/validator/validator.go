// Package validator holds the instrument snapshot used to reject unsupported
// exchange/instrument pairs before any network call, and the sanity checks
// run over fetched candles.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
	"github.com/johnayoung/go-derivs-collector/internal/models"
)

// PairSource provides the supported-pairs snapshot, keyed by exchange name.
type PairSource interface {
	SupportedExchangePairs(ctx context.Context) (map[string][]models.Instrument, error)
}

// Index is an immutable exchange -> instrument lookup built from one
// snapshot. Refreshing it means building a new Index.
type Index struct {
	exchanges []string
	entries   map[string]map[string]models.Instrument
	ordered   map[string][]models.Instrument
}

// NewIndex builds an Index from a snapshot. Instrument ids are matched
// exactly; later duplicates of an id are ignored.
func NewIndex(snapshot map[string][]models.Instrument) *Index {
	idx := &Index{
		entries: make(map[string]map[string]models.Instrument, len(snapshot)),
		ordered: make(map[string][]models.Instrument, len(snapshot)),
	}

	for exchange, instruments := range snapshot {
		set := make(map[string]models.Instrument, len(instruments))
		list := make([]models.Instrument, 0, len(instruments))
		for _, inst := range instruments {
			if inst.ID == "" {
				continue
			}
			if _, dup := set[inst.ID]; dup {
				continue
			}
			set[inst.ID] = inst
			list = append(list, inst)
		}
		idx.entries[exchange] = set
		idx.ordered[exchange] = list
		idx.exchanges = append(idx.exchanges, exchange)
	}
	sort.Strings(idx.exchanges)

	return idx
}

// LoadIndex fetches the full snapshot from source and builds an Index.
func LoadIndex(ctx context.Context, source PairSource) (*Index, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: no pair source configured", apperrors.ErrValidationUnavailable)
	}

	snapshot, err := source.SupportedExchangePairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidationUnavailable, err)
	}

	return NewIndex(snapshot), nil
}

// IsSupported reports whether instrument is listed for exchange. Unknown
// exchanges and instruments both report false.
func (idx *Index) IsSupported(exchange, instrument string) bool {
	if idx == nil {
		return false
	}
	set, ok := idx.entries[exchange]
	if !ok {
		return false
	}
	_, ok = set[instrument]
	return ok
}

// Search returns the instruments of exchange whose id contains fragment,
// case-insensitively, in snapshot order. An empty fragment returns all of
// them.
func (idx *Index) Search(exchange, fragment string) []models.Instrument {
	if idx == nil {
		return nil
	}
	list := idx.ordered[exchange]
	needle := strings.ToUpper(fragment)

	var out []models.Instrument
	for _, inst := range list {
		if needle == "" || strings.Contains(strings.ToUpper(inst.ID), needle) {
			out = append(out, inst)
		}
	}
	return out
}

// Exchanges returns the exchange names in the snapshot, sorted.
func (idx *Index) Exchanges() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, len(idx.exchanges))
	copy(out, idx.exchanges)
	return out
}

// Len returns the number of instruments listed for exchange.
func (idx *Index) Len(exchange string) int {
	if idx == nil {
		return 0
	}
	return len(idx.entries[exchange])
}

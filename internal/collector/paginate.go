package collector

import (
	"context"
	"fmt"

	"github.com/johnayoung/go-derivs-collector/internal/config"
	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
)

// Stride policies for advancing a page cursor.
const (
	// StrideCount advances by the rows received, or one step on an empty page.
	StrideCount = config.StrideCount
	// StrideWindow always advances by PageLimit steps.
	StrideWindow = config.StrideWindow
	// StrideLastSeen resumes one step after the newest row received and
	// advances by PageLimit steps on an empty page.
	StrideLastSeen = config.StrideLastSeen
)

// Page summarizes one fetched page for cursor arithmetic.
type Page struct {
	// Count is the number of rows received.
	Count int
	// Last is the newest row time, in cursor units.
	Last int64
}

// PageFunc fetches the page starting at cursor.
type PageFunc func(ctx context.Context, cursor int64) (Page, error)

// Paginator walks a closed cursor range [start, end] page by page. Failed
// pages are re-issued according to the Retrier; the cursor only moves after
// a page succeeds.
type Paginator struct {
	// Step is one interval in cursor units (ms for candles, s for levels).
	Step      int64
	PageLimit int64
	Stride    string
	Retrier   *apperrors.Retrier
	Component string
	Operation string
	// OnPage, when set, observes every successful page.
	OnPage func(cursor int64, page Page)
}

// Walk fetches pages until the cursor passes end.
func (p *Paginator) Walk(ctx context.Context, start, end int64, fetch PageFunc) error {
	if p.Step <= 0 {
		return fmt.Errorf("paginator step must be positive, got %d", p.Step)
	}
	retrier := p.Retrier
	if retrier == nil {
		retrier = apperrors.NewRetrier(apperrors.NoRetryPolicy(), nil)
	}

	for cursor := start; cursor <= end; {
		var page Page
		err := retrier.Do(ctx, p.Component, p.Operation, func(ctx context.Context) error {
			got, err := fetch(ctx, cursor)
			if err != nil {
				return err
			}
			page = got
			return nil
		})
		if err != nil {
			return err
		}

		if p.OnPage != nil {
			p.OnPage(cursor, page)
		}
		cursor = p.next(cursor, page)
	}
	return nil
}

// next returns the cursor after page. It always moves forward.
func (p *Paginator) next(cursor int64, page Page) int64 {
	window := p.PageLimit * p.Step
	if window < p.Step {
		window = p.Step
	}

	switch p.Stride {
	case StrideWindow:
		return cursor + window
	case StrideLastSeen:
		if page.Count == 0 {
			return cursor + window
		}
		next := page.Last + p.Step
		if next <= cursor {
			next = cursor + p.Step
		}
		return next
	default:
		if page.Count == 0 {
			return cursor + p.Step
		}
		return cursor + int64(page.Count)*p.Step
	}
}

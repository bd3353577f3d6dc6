package indicators

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/fusionrun/internal/market"
)

// Set evaluates the enabled indicators for a window.
type Set struct {
	params Params
}

// NewSet creates an indicator set with the given parameters.
func NewSet(params Params) *Set {
	return &Set{params: params}
}

// Params returns the parameters the set evaluates with.
func (s *Set) Params() Params {
	return s.params
}

// EvaluateAll runs every enabled indicator concurrently. Indicators without
// enough history are skipped. Results are ordered by Kind.
func (s *Set) EvaluateAll(ctx context.Context, instrument string, w market.Window) ([]Result, error) {
	kinds := append([]Kind(nil), s.params.Enabled...)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	kinds = slices.Compact(kinds)

	slots := make([]*Result, len(kinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := Evaluate(kind, instrument, w, s.params)
			if errors.Is(err, ErrInsufficient) {
				log.Debug().
					Str("instrument", instrument).
					Str("indicator", kind.String()).
					Int("samples", w.Len()).
					Msg("Skipping indicator: insufficient history")
				return nil
			}
			if err != nil {
				return err
			}
			slots[i] = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

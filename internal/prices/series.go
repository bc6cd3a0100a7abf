// Package prices indexes irregularly sampled price series for timestamp lookups.
//
// A Series is treated as a step function: an observation's price holds until
// the next observation. Lookups are binary searches over the sorted
// observations.
package prices

import (
	"errors"
	"sort"
	"time"

	"hivetax/internal/model"
)

// ErrNoData is returned by every lookup on an empty series.
var ErrNoData = errors.New("no price data")

// Series is an immutable, ascending-by-timestamp price series for one symbol.
type Series struct {
	symbol       string
	observations []model.PriceObservation
}

// NewSeries builds a series from observations in any order. The input slice is
// copied, so callers may share it (for example from a cache).
func NewSeries(symbol string, observations []model.PriceObservation) *Series {
	sorted := make([]model.PriceObservation, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	return &Series{
		symbol:       symbol,
		observations: sorted,
	}
}

// Symbol returns the ticker the series prices.
func (s *Series) Symbol() string {
	return s.symbol
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.observations)
}

// PriorOrFirst returns the observation with the greatest timestamp strictly
// before t. When no observation precedes t the first observation is returned,
// so very early events still get a best-effort price.
func (s *Series) PriorOrFirst(t time.Time) (model.PriceObservation, error) {
	if len(s.observations) == 0 {
		return model.PriceObservation{}, ErrNoData
	}

	// index of the first observation at or after t
	i := sort.Search(len(s.observations), func(i int) bool {
		return !s.observations[i].Timestamp.Before(t)
	})
	if i == 0 {
		return s.observations[0], nil
	}

	return s.observations[i-1], nil
}

// NextOrLast returns the first observation with a timestamp at or after t and
// ok=true. When t is past the final observation there is no match: the last
// observation is returned with ok=false and the caller decides whether to use it.
func (s *Series) NextOrLast(t time.Time) (obs model.PriceObservation, ok bool, err error) {
	if len(s.observations) == 0 {
		return model.PriceObservation{}, false, ErrNoData
	}

	i := sort.Search(len(s.observations), func(i int) bool {
		return !s.observations[i].Timestamp.Before(t)
	})
	if i == len(s.observations) {
		return s.observations[i-1], false, nil
	}

	return s.observations[i], true, nil
}

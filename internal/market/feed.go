package market

import "context"

// Tick is one sample for one instrument delivered by a Feed.
type Tick struct {
	Instrument string `json:"instrument"`
	Sample     Sample `json:"sample"`
}

// Feed streams samples for instruments into out until ctx is done or the
// source is exhausted.
type Feed interface {
	Stream(ctx context.Context, instruments []string, out chan<- Tick) error
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sawpanic/fusionrun/internal/market"
)

// Replay feeds recorded samples in time order.
type Replay struct {
	samples map[string][]market.Sample
	delay   time.Duration
}

// NewReplay creates a replay feed. delay is the pause between ticks.
func NewReplay(samples map[string][]market.Sample, delay time.Duration) *Replay {
	return &Replay{samples: samples, delay: delay}
}

// LoadReplay reads a JSON object mapping instruments to sample arrays.
func LoadReplay(path string, delay time.Duration) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	var samples map[string][]market.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to decode replay file %s: %w", path, err)
	}
	return NewReplay(samples, delay), nil
}

// Instruments returns the recorded instruments, sorted.
func (r *Replay) Instruments() []string {
	out := make([]string, 0, len(r.samples))
	for inst := range r.samples {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of samples Stream sends for instruments.
func (r *Replay) Len(instruments []string) int {
	n := 0
	for _, inst := range instruments {
		n += len(r.samples[inst])
	}
	return n
}

// Stream sends every recorded sample of instruments, oldest first, then
// returns nil.
func (r *Replay) Stream(ctx context.Context, instruments []string, out chan<- market.Tick) error {
	var ticks []market.Tick
	for _, inst := range instruments {
		for _, s := range r.samples[inst] {
			ticks = append(ticks, market.Tick{Instrument: inst, Sample: s})
		}
	}
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Sample.Time.Before(ticks[j].Sample.Time)
	})

	for _, tick := range ticks {
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.delay > 0 {
			t := time.NewTimer(r.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	return nil
}

// Package market keeps bounded per-instrument windows of OHLCV samples.
package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrderSample is returned when a sample is older than the newest
	// stored sample and does not match an existing slot.
	ErrOutOfOrderSample = errors.New("out of order sample")
	// ErrInvalidSample is returned for samples with a zero timestamp or
	// non-positive prices.
	ErrInvalidSample = errors.New("invalid sample")
)

// Sample is one OHLCV observation for an instrument.
type Sample struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks the sample for obviously broken values.
func (s Sample) Validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidSample)
	}
	for _, p := range []struct {
		name  string
		value float64
	}{{"open", s.Open}, {"high", s.High}, {"low", s.Low}, {"close", s.Close}} {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s %.8f", ErrInvalidSample, p.name, p.value)
		}
	}
	if s.High < s.Low {
		return fmt.Errorf("%w: high %.8f below low %.8f", ErrInvalidSample, s.High, s.Low)
	}
	if s.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrInvalidSample)
	}
	return nil
}

// Window is an ordered, oldest first, read-only copy of recent samples.
type Window []Sample

// Len returns the number of samples in the window.
func (w Window) Len() int { return len(w) }

// Last returns the newest sample; ok is false for an empty window.
func (w Window) Last() (Sample, bool) {
	if len(w) == 0 {
		return Sample{}, false
	}
	return w[len(w)-1], true
}

// Tail returns the newest n samples, or the whole window if shorter.
func (w Window) Tail(n int) Window {
	if n >= len(w) {
		return w
	}
	if n <= 0 {
		return Window{}
	}
	return w[len(w)-n:]
}

// Closes returns the close prices in order.
func (w Window) Closes() []float64 {
	out := make([]float64, len(w))
	for i, s := range w {
		out[i] = s.Close
	}
	return out
}

// Highs returns the high prices in order.
func (w Window) Highs() []float64 {
	out := make([]float64, len(w))
	for i, s := range w {
		out[i] = s.High
	}
	return out
}

// Lows returns the low prices in order.
func (w Window) Lows() []float64 {
	out := make([]float64, len(w))
	for i, s := range w {
		out[i] = s.Low
	}
	return out
}

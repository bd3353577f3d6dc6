package market

import (
	"sort"
	"sync"
	"time"
)

// Config bounds how much history the store keeps per instrument.
type Config struct {
	// Capacity is the maximum number of samples kept per instrument. It should
	// cover the longest indicator lookback plus some headroom.
	Capacity int `yaml:"capacity"`
	// Retention drops samples older than the newest sample minus this
	// horizon. Zero disables time based eviction.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig returns a store configuration large enough for the default
// indicator parameters.
func DefaultConfig() Config {
	return Config{
		Capacity:  256,
		Retention: 0,
	}
}

// Store holds per-instrument sample series. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	retention time.Duration
	series    map[string][]Sample
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Store{
		capacity:  cfg.Capacity,
		retention: cfg.Retention,
		series:    make(map[string][]Sample),
	}
}

// Capacity returns the per-instrument sample bound.
func (s *Store) Capacity() int {
	return s.capacity
}

// Record appends a sample. A sample with the same timestamp as a stored one
// replaces it (late correction). An older sample with no matching slot is
// rejected with ErrOutOfOrderSample.
func (s *Store) Record(instrument string, sample Sample) error {
	if err := sample.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[instrument]
	n := len(series)

	if n > 0 && !sample.Time.After(series[n-1].Time) {
		i := sort.Search(n, func(i int) bool {
			return !series[i].Time.Before(sample.Time)
		})
		if i < n && series[i].Time.Equal(sample.Time) {
			series[i] = sample
			return nil
		}
		return ErrOutOfOrderSample
	}

	series = append(series, sample)
	s.series[instrument] = s.evict(series)
	return nil
}

// evict applies the capacity and retention bounds. The backing array is
// reallocated when samples are dropped so evicted data is released.
func (s *Store) evict(series []Sample) []Sample {
	drop := 0
	if len(series) > s.capacity {
		drop = len(series) - s.capacity
	}
	if s.retention > 0 && len(series) > 0 {
		horizon := series[len(series)-1].Time.Add(-s.retention)
		for drop < len(series)-1 && series[drop].Time.Before(horizon) {
			drop++
		}
	}
	if drop == 0 {
		return series
	}
	kept := make([]Sample, len(series)-drop, s.capacity)
	copy(kept, series[drop:])
	return kept
}

// Window returns up to length of the most recent samples, oldest first.
// Fewer samples are returned when less history is available.
func (s *Store) Window(instrument string, length int) Window {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[instrument]
	if length <= 0 || length > len(series) {
		length = len(series)
	}
	out := make(Window, length)
	copy(out, series[len(series)-length:])
	return out
}

// Latest returns the newest sample for the instrument.
func (s *Store) Latest(instrument string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[instrument]
	if len(series) == 0 {
		return Sample{}, false
	}
	return series[len(series)-1], true
}

// Len returns how many samples are stored for the instrument.
func (s *Store) Len(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[instrument])
}

// Instruments returns the instruments with stored samples, sorted.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for name := range s.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

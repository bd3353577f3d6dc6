package logging

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Progress logs completion of a fixed-size job at percentage steps.
type Progress struct {
	mu      sync.Mutex
	name    string
	total   int
	current int
	step    int
	nextPct int
	started time.Time
	logger  zerolog.Logger
	now     func() time.Time
}

// NewProgress reports every 10% of total items to logger.
func NewProgress(name string, total int, logger zerolog.Logger) *Progress {
	return &Progress{
		name:    name,
		total:   total,
		step:    10,
		nextPct: 10,
		started: time.Now(),
		logger:  logger,
		now:     time.Now,
	}
}

// Increment advances progress by one item.
func (p *Progress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(p.current + 1)
}

// Update sets the number of completed items.
func (p *Progress) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(current)
}

func (p *Progress) update(current int) {
	p.current = current
	if p.total <= 0 {
		return
	}
	pct := p.current * 100 / p.total
	if pct < p.nextPct {
		return
	}
	p.nextPct = (pct/p.step + 1) * p.step

	p.logger.Info().
		Str("job", p.name).
		Int("done", p.current).
		Int("total", p.total).
		Int("pct", pct).
		Dur("eta", p.eta()).
		Msg("Progress")
}

// Percent returns completion in [0, 100].
func (p *Progress) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total <= 0 {
		return 0
	}
	pct := float64(p.current) / float64(p.total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// ETA estimates the remaining time from the average rate so far.
func (p *Progress) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eta()
}

func (p *Progress) eta() time.Duration {
	if p.current <= 0 || p.current >= p.total {
		return 0
	}
	elapsed := p.now().Sub(p.started)
	perItem := elapsed / time.Duration(p.current)
	return (perItem * time.Duration(p.total-p.current)).Round(time.Millisecond)
}

// Finish logs the total item count and elapsed time.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info().
		Str("job", p.name).
		Int("done", p.current).
		Dur("elapsed", p.now().Sub(p.started).Round(time.Millisecond)).
		Msg("Completed")
}

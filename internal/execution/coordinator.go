package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/fusionrun/internal/metrics"
	"github.com/sawpanic/fusionrun/internal/orders"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

type orderState int

const (
	stateQueued orderState = iota
	stateSubmitting
	statePending
)

type order struct {
	intent orders.Intent
	state  orderState
}

// Result is the outcome of executing or reconciling one intent.
type Result struct {
	Intent   orders.Intent
	Status   orders.Status
	Fill     *orders.Fill
	Position portfolio.Position
	Trade    *portfolio.Trade
	Attempts int
	Err      error
}

// Coordinator owns the path from order intent to booked fill. At most one
// order per instrument is unconfirmed at any time.
type Coordinator struct {
	cfg      Config
	ledger   *portfolio.Ledger
	exchange Exchange
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	metrics  *metrics.Registry
	sleep    func(context.Context, time.Duration) error

	mu       sync.Mutex
	inflight map[string]*order // keyed by instrument
	queue    chan orders.Intent
}

// NewCoordinator wires a coordinator to the ledger and exchange. reg may
// be nil.
func NewCoordinator(cfg Config, ledger *portfolio.Ledger, exchange Exchange, reg *metrics.Registry) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		ledger:   ledger,
		exchange: exchange,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		metrics:  reg,
		sleep:    sleepContext,
		inflight: make(map[string]*order),
		queue:    make(chan orders.Intent, cfg.QueueSize),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A refused order means the exchange is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || definitive(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
			reg.SetBreakerState(int(to))
		},
	})
	return c
}

// Submit validates intent and queues it. Exit intents move their position
// to closing until the order resolves.
func (c *Coordinator) Submit(intent orders.Intent) error {
	if err := intent.Validate(); err != nil {
		return fmt.Errorf("submit %s: %w", intent.Instrument, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.inflight[intent.Instrument]; ok {
		return fmt.Errorf("%w: %s has %s order %s", ErrOrderInFlight, intent.Instrument, existing.intent.Purpose, existing.intent.ID)
	}
	if intent.Purpose == orders.Exit {
		if err := c.ledger.BeginClose(intent.PositionID); err != nil {
			return fmt.Errorf("submit exit for %s: %w", intent.Instrument, err)
		}
	}

	select {
	case c.queue <- intent:
	default:
		if intent.Purpose == orders.Exit {
			c.abortClose(intent)
		}
		return fmt.Errorf("%w: %d queued", ErrQueueFull, len(c.queue))
	}
	c.inflight[intent.Instrument] = &order{intent: intent, state: stateQueued}
	c.metrics.SetPendingOrders(len(c.inflight))

	log.Info().
		Str("instrument", intent.Instrument).
		Str("order_id", intent.ID).
		Str("purpose", string(intent.Purpose)).
		Str("side", string(intent.Side)).
		Float64("quantity", intent.Quantity).
		Float64("price", intent.Price).
		Msg("Order queued")
	return nil
}

// InFlight reports whether instrument has an unconfirmed order.
func (c *Coordinator) InFlight(instrument string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[instrument]
	return ok
}

// Run executes queued intents until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent := <-c.queue:
			c.Execute(ctx, intent)
		}
	}
}

// Flush executes every queued intent synchronously.
func (c *Coordinator) Flush(ctx context.Context) []Result {
	var results []Result
	for {
		select {
		case intent := <-c.queue:
			results = append(results, c.Execute(ctx, intent))
		default:
			return results
		}
	}
}

// Execute submits intent with retries. A timed out submission is checked
// with GetOrderStatus before it is sent again. When attempts run out the
// order stays pending for Reconcile.
func (c *Coordinator) Execute(ctx context.Context, intent orders.Intent) Result {
	c.setState(intent, stateSubmitting)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.backoff(attempt)); err != nil {
				lastErr = err
				break
			}
			if errors.Is(lastErr, ErrExchangeTimeout) {
				if res, done := c.resolve(ctx, intent, attempt-1); done {
					return res
				}
			}
		}

		out, err := c.call(ctx, "submit", func(ctx context.Context) (any, error) {
			return c.exchange.SubmitOrder(ctx, intent)
		})
		if err == nil {
			return c.book(intent, out.(orders.Fill), attempt)
		}
		lastErr = err
		if definitive(err) {
			return c.reject(intent, orders.StatusRejected, err, attempt)
		}
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		log.Warn().
			Err(err).
			Str("instrument", intent.Instrument).
			Str("order_id", intent.ID).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Msg("Order submission failed, retrying")
	}

	c.setState(intent, statePending)
	c.metrics.RecordOrder(string(intent.Purpose), "pending")
	log.Warn().
		Err(lastErr).
		Str("instrument", intent.Instrument).
		Str("order_id", intent.ID).
		Msg("Order left pending for reconciliation")
	return Result{Intent: intent, Status: orders.StatusPending, Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// resolve asks the exchange about an order whose submission timed out. It
// reports done when the order reached a final state or is working on the
// exchange.
func (c *Coordinator) resolve(ctx context.Context, intent orders.Intent, attempts int) (Result, bool) {
	status, fill, err := c.status(ctx, intent.ID)
	if err != nil {
		return Result{}, false
	}
	switch status {
	case orders.StatusFilled:
		if fill != nil {
			return c.book(intent, *fill, attempts), true
		}
	case orders.StatusRejected, orders.StatusCanceled:
		return c.reject(intent, status, fmt.Errorf("order %s %s", intent.ID, status), attempts), true
	case orders.StatusPending:
		c.setState(intent, statePending)
		return Result{Intent: intent, Status: orders.StatusPending, Attempts: attempts}, true
	}
	return Result{}, false
}

// Reconcile checks every pending order with the exchange. Orders the
// exchange never saw are submitted again under the same ID.
func (c *Coordinator) Reconcile(ctx context.Context) []Result {
	var results []Result
	for _, intent := range c.claimPending() {
		status, fill, err := c.status(ctx, intent.ID)
		if err != nil {
			c.setState(intent, statePending)
			log.Warn().Err(err).Str("order_id", intent.ID).Msg("Order status check failed")
			continue
		}

		switch status {
		case orders.StatusFilled:
			if fill == nil {
				c.setState(intent, statePending)
				continue
			}
			results = append(results, c.book(intent, *fill, 0))
		case orders.StatusRejected, orders.StatusCanceled:
			results = append(results, c.reject(intent, status, fmt.Errorf("order %s %s", intent.ID, status), 0))
		case orders.StatusUnknown:
			results = append(results, c.Execute(ctx, intent))
		default:
			c.setState(intent, statePending)
		}
	}
	return results
}

// Cancel cancels the pending order of instrument. Orders that are queued
// or being submitted cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, instrument string) error {
	c.mu.Lock()
	o, ok := c.inflight[instrument]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: no order for %s", ErrOrderNotFound, instrument)
	}
	if o.state != statePending {
		c.mu.Unlock()
		return fmt.Errorf("%w: order %s is being submitted", ErrOrderInFlight, o.intent.ID)
	}
	intent := o.intent
	o.state = stateSubmitting
	c.mu.Unlock()

	if _, err := c.call(ctx, "cancel", func(ctx context.Context) (any, error) {
		return nil, c.exchange.CancelOrder(ctx, intent.ID)
	}); err != nil {
		c.setState(intent, statePending)
		return fmt.Errorf("cancel %s: %w", intent.ID, err)
	}
	c.reject(intent, orders.StatusCanceled, nil, 0)
	return nil
}

// Drain executes queued intents and reconciles until nothing is pending
// or ctx is done.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.Flush(ctx)
	poll := max(c.cfg.BaseBackoff, 10*time.Millisecond)
	for {
		c.Reconcile(ctx)
		n := c.pendingCount()
		if n == 0 {
			return nil
		}
		if err := c.sleep(ctx, poll); err != nil {
			return fmt.Errorf("drain: %d orders still pending: %w", n, err)
		}
	}
}

// Pending returns every unconfirmed intent, oldest first.
func (c *Coordinator) Pending() []orders.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]orders.Intent, 0, len(c.inflight))
	for _, o := range c.inflight {
		out = append(out, o.intent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Instrument < out[j].Instrument
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resume restores unconfirmed intents after a restart. They are resolved
// by the next Reconcile.
func (c *Coordinator) Resume(pending []orders.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, intent := range pending {
		if _, ok := c.inflight[intent.Instrument]; ok {
			continue
		}
		if intent.Purpose == orders.Exit {
			if err := c.ledger.BeginClose(intent.PositionID); err != nil {
				log.Warn().Err(err).Str("order_id", intent.ID).Msg("Dropping pending exit for unknown position")
				continue
			}
		}
		c.inflight[intent.Instrument] = &order{intent: intent, state: statePending}
	}
	c.metrics.SetPendingOrders(len(c.inflight))
	log.Info().Int("pending", len(c.inflight)).Msg("Pending orders resumed")
}

func (c *Coordinator) call(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		out, err := fn(callCtx)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrExchangeTimeout)
		}
		return out, err
	})
	c.metrics.RecordExchangeLatency(op, time.Since(start))
	return out, err
}

func (c *Coordinator) status(ctx context.Context, orderID string) (orders.Status, *orders.Fill, error) {
	type reply struct {
		status orders.Status
		fill   *orders.Fill
	}
	out, err := c.call(ctx, "status", func(ctx context.Context) (any, error) {
		status, fill, err := c.exchange.GetOrderStatus(ctx, orderID)
		return reply{status, fill}, err
	})
	if err != nil {
		return orders.StatusUnknown, nil, err
	}
	r := out.(reply)
	return r.status, r.fill, nil
}

func (c *Coordinator) book(intent orders.Intent, fill orders.Fill, attempts int) Result {
	res := Result{Intent: intent, Status: orders.StatusFilled, Fill: &fill, Attempts: attempts}

	pos, err := c.ledger.ApplyFill(intent, fill)
	if err != nil {
		log.Error().
			Err(err).
			Str("instrument", intent.Instrument).
			Str("order_id", intent.ID).
			Msg("Fill could not be booked")
		if intent.Purpose == orders.Exit {
			c.abortClose(intent)
		}
		c.release(intent)
		c.metrics.RecordOrder(string(intent.Purpose), "booking_failed")
		res.Err = err
		return res
	}
	res.Position = pos

	if intent.Purpose == orders.Exit && pos.Size == 0 {
		trades := c.ledger.Snapshot().Trades
		for i := len(trades) - 1; i >= 0; i-- {
			if trades[i].PositionID == pos.ID {
				t := trades[i]
				res.Trade = &t
				c.metrics.RecordTrade(t.ReturnPct)
				break
			}
		}
	}
	c.release(intent)
	c.metrics.RecordOrder(string(intent.Purpose), "filled")

	log.Info().
		Str("instrument", intent.Instrument).
		Str("order_id", intent.ID).
		Str("purpose", string(intent.Purpose)).
		Float64("fill_price", fill.Price).
		Float64("quantity", fill.Quantity).
		Float64("fee", fill.Fee).
		Msg("Order filled")
	return res
}

func (c *Coordinator) reject(intent orders.Intent, status orders.Status, err error, attempts int) Result {
	if intent.Purpose == orders.Exit {
		c.abortClose(intent)
	}
	c.release(intent)
	c.metrics.RecordOrder(string(intent.Purpose), string(status))

	log.Warn().
		Err(err).
		Str("instrument", intent.Instrument).
		Str("order_id", intent.ID).
		Str("status", string(status)).
		Msg("Order not filled")
	return Result{Intent: intent, Status: status, Attempts: attempts, Err: err}
}

func (c *Coordinator) abortClose(intent orders.Intent) {
	if err := c.ledger.AbortClose(intent.PositionID); err != nil {
		log.Warn().Err(err).Str("position_id", intent.PositionID).Msg("Could not reopen position")
	}
}

func (c *Coordinator) setState(intent orders.Intent, state orderState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.inflight[intent.Instrument]; ok && o.intent.ID == intent.ID {
		o.state = state
		return
	}
	c.inflight[intent.Instrument] = &order{intent: intent, state: state}
	c.metrics.SetPendingOrders(len(c.inflight))
}

func (c *Coordinator) release(intent orders.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.inflight[intent.Instrument]; ok && o.intent.ID == intent.ID {
		delete(c.inflight, intent.Instrument)
	}
	c.metrics.SetPendingOrders(len(c.inflight))
}

func (c *Coordinator) claimPending() []orders.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []orders.Intent
	for _, o := range c.inflight {
		if o.state == statePending {
			o.state = stateSubmitting
			out = append(out, o.intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (c *Coordinator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package engine schedules signal evaluation, entries and exit monitoring
// for a fixed set of instruments.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/execution"
	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/indicators"
	"github.com/sawpanic/fusionrun/internal/market"
	"github.com/sawpanic/fusionrun/internal/metrics"
	"github.com/sawpanic/fusionrun/internal/orders"
	"github.com/sawpanic/fusionrun/internal/persistence"
	"github.com/sawpanic/fusionrun/internal/portfolio"
	"github.com/sawpanic/fusionrun/internal/regime"
	"github.com/sawpanic/fusionrun/internal/risk"
)

// ErrNoData is returned when an instrument has no samples yet.
var ErrNoData = errors.New("no samples for instrument")

// Publisher mirrors engine output into a shared cache.
type Publisher interface {
	SetMark(ctx context.Context, instrument string, price float64) error
	PublishSignal(ctx context.Context, sig fusion.Signal) error
	PublishPortfolio(ctx context.Context, state portfolio.State, m portfolio.Metrics) error
}

// MarkSink receives the latest close per instrument, such as the paper
// exchange pricing its fills.
type MarkSink interface {
	SetMark(instrument string, price float64)
}

// Deps are the collaborators of an engine. Store, Indicators, Fusion,
// Exits, Sizer, Ledger and Coordinator are required.
type Deps struct {
	Store       *market.Store
	Indicators  *indicators.Set
	Fusion      *fusion.Engine
	Exits       *exits.Evaluator
	Sizer       *risk.Sizer
	Ledger      *portfolio.Ledger
	Coordinator *execution.Coordinator
	State       persistence.StateStore
	Cache       Publisher
	Marks       MarkSink
	Feed        market.Feed
	Metrics     *metrics.Registry
}

// Snapshot is the portfolio view served to operators.
type Snapshot struct {
	State   portfolio.State    `json:"state"`
	Metrics portfolio.Metrics  `json:"metrics"`
	Marks   map[string]float64 `json:"marks"`
}

// InstrumentStatus summarises one instrument for health checks.
type InstrumentStatus struct {
	Instrument string    `json:"instrument"`
	Samples    int       `json:"samples"`
	LastSample time.Time `json:"last_sample"`
	Position   bool      `json:"position"`
	InFlight   bool      `json:"in_flight"`
}

// Status is the engine health summary.
type Status struct {
	Instruments   []InstrumentStatus `json:"instruments"`
	OpenPositions int                `json:"open_positions"`
	PendingOrders int                `json:"pending_orders"`
}

type components struct {
	set   *indicators.Set
	exits *exits.Evaluator
	sizer *risk.Sizer
}

// Engine ties the market store, fusion, sizing, exits and execution
// together. Components replaced by Configure take effect on the next cycle.
type Engine struct {
	cfg     Config
	store   *market.Store
	fusion  *fusion.Engine
	ledger  *portfolio.Ledger
	coord   *execution.Coordinator
	state   persistence.StateStore
	cache   Publisher
	marks   MarkSink
	feed    market.Feed
	metrics *metrics.Registry
	now     func() time.Time

	mu   sync.RWMutex
	comp components
}

// New validates cfg and wires the engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: market store is required")
	case deps.Indicators == nil:
		return nil, errors.New("engine: indicator set is required")
	case deps.Fusion == nil:
		return nil, errors.New("engine: fusion engine is required")
	case deps.Exits == nil:
		return nil, errors.New("engine: exit evaluator is required")
	case deps.Sizer == nil:
		return nil, errors.New("engine: sizer is required")
	case deps.Ledger == nil:
		return nil, errors.New("engine: ledger is required")
	case deps.Coordinator == nil:
		return nil, errors.New("engine: execution coordinator is required")
	}
	if lookback := deps.Indicators.Params().Lookback(); lookback > deps.Store.Capacity() {
		return nil, fmt.Errorf("engine: indicator lookback %d exceeds store capacity %d", lookback, deps.Store.Capacity())
	}
	state := deps.State
	if state == nil {
		state = persistence.Nop{}
	}
	return &Engine{
		cfg:     cfg,
		store:   deps.Store,
		fusion:  deps.Fusion,
		ledger:  deps.Ledger,
		coord:   deps.Coordinator,
		state:   state,
		cache:   deps.Cache,
		marks:   deps.Marks,
		feed:    deps.Feed,
		metrics: deps.Metrics,
		now:     time.Now,
		comp: components{
			set:   deps.Indicators,
			exits: deps.Exits,
			sizer: deps.Sizer,
		},
	}, nil
}

// Config returns the loop configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) current() components {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.comp
}

// Configure replaces the sizing, indicator and exit settings. Invalid
// settings are rejected and the running configuration is kept. Open
// positions keep the exit plan they were opened with.
func (e *Engine) Configure(riskCfg risk.Config, params indicators.Params, exitCfg exits.Config) error {
	var errs []error
	if err := riskCfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk: %w", err))
	}
	if err := params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("indicators: %w", err))
	} else if lookback := params.Lookback(); lookback > e.store.Capacity() {
		errs = append(errs, fmt.Errorf("indicators: lookback %d exceeds store capacity %d", lookback, e.store.Capacity()))
	}
	if err := exitCfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("exits: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	ev := exits.NewEvaluator(exitCfg)
	comp := components{
		set:   indicators.NewSet(params),
		exits: ev,
		sizer: risk.NewSizer(riskCfg, ev),
	}
	e.mu.Lock()
	e.comp = comp
	e.mu.Unlock()

	log.Info().
		Int("lookback", params.Lookback()).
		Str("stop", string(exitCfg.Stop)).
		Float64("risk_per_trade", riskCfg.RiskPerTrade).
		Msg("Engine reconfigured")
	return nil
}

// Ingest records a sample. Out of order and invalid samples are logged,
// counted and returned.
func (e *Engine) Ingest(ctx context.Context, instrument string, s market.Sample) error {
	if err := e.store.Record(instrument, s); err != nil {
		event := log.Warn().Err(err).Str("instrument", instrument).Time("sample_time", s.Time)
		if errors.Is(err, market.ErrOutOfOrderSample) {
			event.Msg("Dropping out of order sample")
		} else {
			event.Msg("Dropping invalid sample")
		}
		e.metrics.RecordDroppedSample(instrument)
		return err
	}

	last, ok := e.store.Latest(instrument)
	if !ok || !last.Time.Equal(s.Time) {
		return nil
	}
	if e.marks != nil {
		e.marks.SetMark(instrument, s.Close)
	}
	if e.cache != nil {
		if err := e.cache.SetMark(ctx, instrument, s.Close); err != nil {
			log.Debug().Err(err).Str("instrument", instrument).Msg("Mark not cached")
		}
	}
	return nil
}

// EvaluateOnce fuses the current window of instrument into a signal without
// trading on it.
func (e *Engine) EvaluateOnce(ctx context.Context, instrument string) (fusion.Signal, error) {
	timer := e.metrics.StartStepTimer("evaluate")
	comp := e.current()

	w := e.store.Window(instrument, comp.set.Params().Lookback())
	last, ok := w.Last()
	if !ok {
		timer.Stop("no_data")
		return fusion.Signal{}, fmt.Errorf("%w: %s", ErrNoData, instrument)
	}

	results, err := comp.set.EvaluateAll(ctx, instrument, w)
	if err != nil {
		timer.Stop("error")
		e.metrics.RecordCycleError("evaluate")
		return fusion.Signal{}, fmt.Errorf("evaluate %s: %w", instrument, err)
	}

	sig := e.fusion.Fuse(instrument, results)
	if sig.Time.IsZero() {
		sig.Time = last.Time
	}
	e.metrics.RecordSignal(instrument, string(sig.Direction), sig.Strength, sig.Regime == regime.Trending)
	if e.cache != nil {
		if err := e.cache.PublishSignal(ctx, sig); err != nil {
			log.Warn().Err(err).Str("instrument", instrument).Msg("Signal not published")
		}
	}

	log.Debug().
		Str("instrument", instrument).
		Str("direction", string(sig.Direction)).
		Float64("strength", sig.Strength).
		Float64("confidence", sig.Confidence).
		Str("regime", sig.Regime.String()).
		Int("indicators", len(results)).
		Msg("Signal evaluated")
	timer.Stop("ok")
	return sig, nil
}

// SignalCycle evaluates instrument. An open position is checked against the
// new signal for a reversal exit; when auto trading is on and the
// instrument is flat, a sized entry is queued.
func (e *Engine) SignalCycle(ctx context.Context, instrument string) (fusion.Signal, error) {
	sig, err := e.EvaluateOnce(ctx, instrument)
	if err != nil {
		return sig, err
	}
	if pos, open := e.ledger.Position(instrument); open {
		if sig.Direction.Tradable() && sig.Direction != pos.Direction && e.current().exits.Config().ExitOnReversal {
			return sig, e.monitorPosition(instrument, sig.Direction)
		}
		return sig, nil
	}
	if !e.cfg.AutoTrade || !sig.Direction.Tradable() || e.coord.InFlight(instrument) {
		return sig, nil
	}

	last, ok := e.store.Latest(instrument)
	if !ok {
		return sig, nil
	}
	atr := indicators.ATR(e.store.Window(instrument, e.cfg.ATRPeriod+1), e.cfg.ATRPeriod)

	if _, err := e.enter(sig, last.Close, atr); err != nil {
		var rej *risk.Rejection
		if errors.As(err, &rej) || errors.Is(err, execution.ErrOrderInFlight) {
			return sig, nil
		}
		return sig, err
	}
	return sig, nil
}

// enter sizes sig at price and queues the entry. A sizer refusal is
// returned as *risk.Rejection.
func (e *Engine) enter(sig fusion.Signal, price, atr float64) (orders.Intent, error) {
	intent, rej := e.current().sizer.ProposeEntry(sig, e.ledger.Snapshot(), price, atr)
	if rej != nil {
		e.metrics.RecordRejection(string(rej.Reason))
		return orders.Intent{}, rej
	}
	if err := e.coord.Submit(intent); err != nil {
		if errors.Is(err, execution.ErrOrderInFlight) {
			return orders.Intent{}, err
		}
		e.metrics.RecordCycleError("entry")
		return orders.Intent{}, fmt.Errorf("queue entry for %s: %w", sig.Instrument, err)
	}
	return intent, nil
}

// MonitorCycle reconciles pending orders, evaluates every open position
// against its exit plan and publishes the portfolio.
func (e *Engine) MonitorCycle(ctx context.Context) error {
	timer := e.metrics.StartStepTimer("monitor")
	e.coord.Reconcile(ctx)

	var errs []error
	for _, pos := range e.ledger.OpenPositions() {
		if err := e.monitorPosition(pos.Instrument, domain.Neutral); err != nil {
			errs = append(errs, err)
		}
	}
	e.publishPortfolio(ctx)

	if err := errors.Join(errs...); err != nil {
		timer.Stop("error")
		return err
	}
	timer.Stop("ok")
	return nil
}

// MonitorInstrument evaluates the open position of instrument, if any.
func (e *Engine) MonitorInstrument(ctx context.Context, instrument string) error {
	return e.monitorPosition(instrument, domain.Neutral)
}

// monitorPosition checks for an order in flight before it reads the
// position, so the plan it evaluates includes every booked fill.
func (e *Engine) monitorPosition(instrument string, signal domain.Direction) error {
	if e.coord.InFlight(instrument) {
		return nil
	}
	pos, ok := e.ledger.Position(instrument)
	if !ok || pos.Status != exits.StatusOpen {
		return nil
	}
	last, ok := e.store.Latest(pos.Instrument)
	if !ok {
		return nil
	}

	d := e.current().exits.EvaluateSignal(pos.Exit, pos.RemainingFraction(), last.Close, last.Time, signal)
	if d.Plan.Stop.Price != pos.Exit.Stop.Price || d.Plan.Trailing != pos.Exit.Trailing {
		if err := e.ledger.UpdatePlan(pos.ID, d.Plan); err != nil {
			return fmt.Errorf("update plan of %s: %w", pos.Instrument, err)
		}
	}
	if !d.ShouldExit() {
		return nil
	}
	return e.exit(pos, d)
}

func (e *Engine) exit(pos portfolio.Position, d exits.Decision) error {
	qty := pos.Size
	if d.Action == exits.PartialClose {
		qty = math.Min(d.Fraction*pos.InitialSize, pos.Size)
	}
	intent := orders.NewExit(pos.Instrument, pos.ID, pos.Direction, qty, d.Price, d.Reason, d.Level, d.Timestamp)
	if err := e.coord.Submit(intent); err != nil {
		if errors.Is(err, execution.ErrOrderInFlight) {
			return nil
		}
		e.metrics.RecordCycleError("exit")
		return fmt.Errorf("queue exit for %s: %w", pos.Instrument, err)
	}
	e.metrics.RecordExit(d.Reason.String())

	log.Info().
		Str("instrument", pos.Instrument).
		Str("position_id", pos.ID).
		Str("reason", d.Reason.String()).
		Float64("quantity", qty).
		Float64("price", d.Price).
		Float64("unrealized_pct", d.UnrealizedPnL).
		Msg(d.TriggeredBy)
	return nil
}

// ClosePosition queues a manual close of the open position of instrument.
func (e *Engine) ClosePosition(instrument string) error {
	pos, ok := e.ledger.Position(instrument)
	if !ok {
		return fmt.Errorf("%w: %s", portfolio.ErrPositionNotFound, instrument)
	}
	last, ok := e.store.Latest(instrument)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoData, instrument)
	}
	return e.exit(pos, exits.ManualClose(pos.Exit, pos.RemainingFraction(), last.Close, last.Time))
}

// Tick processes one sample synchronously: exits first, then a new signal,
// with every queued order executed before returning.
func (e *Engine) Tick(ctx context.Context, tick market.Tick) error {
	if err := e.Ingest(ctx, tick.Instrument, tick.Sample); err != nil {
		return err
	}
	if err := e.MonitorInstrument(ctx, tick.Instrument); err != nil {
		return err
	}
	e.coord.Flush(ctx)
	if _, err := e.SignalCycle(ctx, tick.Instrument); err != nil && !errors.Is(err, ErrNoData) {
		return err
	}
	e.coord.Flush(ctx)
	return nil
}

// Process streams feed through Tick until the feed is exhausted or ctx is
// done, then shuts down.
func (e *Engine) Process(ctx context.Context, feed market.Feed) error {
	g, gctx := errgroup.WithContext(ctx)
	ticks := make(chan market.Tick)
	g.Go(func() error {
		defer close(ticks)
		return quiet(gctx, feed.Stream(gctx, e.cfg.Instruments, ticks))
	})
	g.Go(func() error {
		for t := range ticks {
			if err := e.Tick(gctx, t); err != nil && !isSampleError(err) {
				log.Warn().Err(err).Str("instrument", t.Instrument).Msg("Tick failed")
			}
		}
		return nil
	})
	err := g.Wait()
	return errors.Join(err, e.Shutdown(context.WithoutCancel(ctx)))
}

// Run starts the coordinator, the feed and, per instrument, a signal loop
// and a monitor loop. It returns after ctx is done and the engine has
// shut down.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Strs("instruments", e.cfg.Instruments).
		Dur("signal_interval", e.cfg.SignalInterval).
		Dur("monitor_interval", e.cfg.MonitorInterval).
		Bool("auto_trade", e.cfg.AutoTrade).
		Msg("Engine starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return quiet(gctx, e.coord.Run(gctx))
	})

	if e.feed != nil {
		ticks := make(chan market.Tick, 256)
		g.Go(func() error {
			defer close(ticks)
			return quiet(gctx, e.feed.Stream(gctx, e.cfg.Instruments, ticks))
		})
		g.Go(func() error {
			for t := range ticks {
				_ = e.Ingest(gctx, t.Instrument, t.Sample)
			}
			return nil
		})
	}

	for _, inst := range e.cfg.Instruments {
		inst := inst
		g.Go(func() error {
			return every(gctx, e.cfg.SignalInterval, func(ctx context.Context) {
				if _, err := e.SignalCycle(ctx, inst); err != nil && !errors.Is(err, ErrNoData) {
					log.Warn().Err(err).Str("instrument", inst).Msg("Signal cycle failed")
				}
			})
		})
		g.Go(func() error {
			return every(gctx, e.cfg.MonitorInterval, func(ctx context.Context) {
				if err := e.MonitorInstrument(ctx, inst); err != nil {
					log.Warn().Err(err).Str("instrument", inst).Msg("Monitor cycle failed")
				}
			})
		})
	}
	g.Go(func() error {
		return every(gctx, e.cfg.MonitorInterval, func(ctx context.Context) {
			e.coord.Reconcile(ctx)
			e.publishPortfolio(ctx)
		})
	})
	g.Go(func() error {
		return every(gctx, e.cfg.PersistInterval, func(ctx context.Context) {
			if err := e.Persist(ctx); err != nil {
				log.Error().Err(err).Msg("Periodic persist failed")
			}
		})
	})

	err := g.Wait()
	return errors.Join(err, e.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown drains unconfirmed orders and persists the final state. Each
// step gets its own ShutdownTimeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	drainCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	if err := e.coord.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Shutting down with unconfirmed orders")
	}
	cancel()

	persistCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Persist(persistCtx); err != nil {
		errs = append(errs, err)
	}
	e.publishPortfolio(persistCtx)

	snap := e.ledger.Snapshot()
	log.Info().
		Int("open_positions", len(snap.Positions)).
		Int("trades", len(snap.Trades)).
		Int("pending_orders", len(e.coord.Pending())).
		Float64("total", snap.Total).
		Msg("Engine stopped")
	return errors.Join(errs...)
}

// Persist saves the ledger and unconfirmed orders.
func (e *Engine) Persist(ctx context.Context) error {
	snap := persistence.Snapshot{
		Portfolio: e.ledger.Snapshot(),
		Pending:   e.coord.Pending(),
		SavedAt:   e.now().UTC(),
	}
	if err := e.state.SaveState(ctx, snap); err != nil {
		e.metrics.RecordCycleError("persist")
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Restore reloads persisted state. Open positions come back under exit
// management and are not entered again; unconfirmed orders are resolved by
// the next reconcile. It reports whether any state was found.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	snap, ok, err := e.state.LoadState(ctx)
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		log.Info().Msg("No persisted state, starting fresh")
		return false, nil
	}
	if err := e.ledger.Restore(snap.Portfolio); err != nil {
		return false, err
	}
	e.coord.Resume(snap.Pending)

	log.Info().
		Int("open_positions", len(snap.Portfolio.Positions)).
		Int("trades", len(snap.Portfolio.Trades)).
		Int("pending_orders", len(snap.Pending)).
		Time("saved_at", snap.SavedAt).
		Msg("State restored")
	return true, nil
}

// PortfolioSnapshot returns the ledger state and metrics, marking open
// positions at their latest close.
func (e *Engine) PortfolioSnapshot() Snapshot {
	state := e.ledger.Snapshot()
	marks := e.marksFor(state)
	return Snapshot{
		State:   state,
		Metrics: portfolio.ComputeMetrics(state, marks),
		Marks:   marks,
	}
}

// Status summarises every configured instrument.
func (e *Engine) Status() Status {
	state := e.ledger.Snapshot()
	st := Status{
		OpenPositions: len(state.Positions),
		PendingOrders: len(e.coord.Pending()),
	}
	for _, inst := range e.cfg.Instruments {
		is := InstrumentStatus{
			Instrument: inst,
			Samples:    e.store.Len(inst),
			InFlight:   e.coord.InFlight(inst),
		}
		if last, ok := e.store.Latest(inst); ok {
			is.LastSample = last.Time
		}
		_, is.Position = state.Positions[inst]
		st.Instruments = append(st.Instruments, is)
	}
	sort.Slice(st.Instruments, func(i, j int) bool { return st.Instruments[i].Instrument < st.Instruments[j].Instrument })
	return st
}

func (e *Engine) marksFor(state portfolio.State) map[string]float64 {
	marks := make(map[string]float64, len(state.Positions))
	for inst := range state.Positions {
		if last, ok := e.store.Latest(inst); ok {
			marks[inst] = last.Close
		}
	}
	return marks
}

func (e *Engine) publishPortfolio(ctx context.Context) {
	snap := e.PortfolioSnapshot()
	e.metrics.SetPortfolio(snap.State.Total, snap.State.Available, snap.State.Reserved, len(snap.State.Positions))
	if e.cache == nil {
		return
	}
	if err := e.cache.PublishPortfolio(ctx, snap.State, snap.Metrics); err != nil {
		log.Warn().Err(err).Msg("Portfolio not published")
	}
}

func every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn(ctx)
		}
	}
}

// quiet drops the error a component returns because ctx ended.
func quiet(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func isSampleError(err error) bool {
	return errors.Is(err, market.ErrOutOfOrderSample) || errors.Is(err, market.ErrInvalidSample)
}

package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/orders"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) SubmitOrder(ctx context.Context, intent orders.Intent) (orders.Fill, error) {
	args := m.Called(ctx, intent)
	return args.Get(0).(orders.Fill), args.Error(1)
}

func (m *mockExchange) CancelOrder(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *mockExchange) GetOrderStatus(ctx context.Context, orderID string) (orders.Status, *orders.Fill, error) {
	args := m.Called(ctx, orderID)
	fill, _ := args.Get(1).(*orders.Fill)
	return args.Get(0).(orders.Status), fill, args.Error(2)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit = 1000
	cfg.Burst = 100
	cfg.CallTimeout = time.Second
	return cfg
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newCoordinator(t *testing.T, cfg Config, ex Exchange) (*Coordinator, *portfolio.Ledger, *sleepRecorder) {
	t.Helper()
	ledger := portfolio.NewLedger(portfolio.DefaultConfig())
	c := NewCoordinator(cfg, ledger, ex, nil)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, ledger, rec
}

func entryIntent(t *testing.T, instrument string, qty, price float64) orders.Intent {
	t.Helper()
	plan, err := exits.NewEvaluator(exits.DefaultConfig()).NewPlan(domain.Long, price, t0, 0)
	require.NoError(t, err)
	return orders.NewEntry(instrument, domain.Long, qty, price, plan, t0)
}

func fillFor(intent orders.Intent, price float64) orders.Fill {
	return orders.Fill{
		OrderID:    intent.ID,
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Price:      price,
		Quantity:   intent.Quantity,
		Time:       intent.CreatedAt,
	}
}

func openPosition(t *testing.T, c *Coordinator, ex *mockExchange, instrument string) portfolio.Position {
	t.Helper()
	intent := entryIntent(t, instrument, 1, 100)
	ex.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(i orders.Intent) bool { return i.ID == intent.ID })).
		Return(fillFor(intent, 100), nil).Once()
	require.NoError(t, c.Submit(intent))
	res := c.Flush(context.Background())
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	return res[0].Position
}

func TestCoordinator_EntryFilled(t *testing.T) {
	ex := &mockExchange{}
	c, ledger, _ := newCoordinator(t, testConfig(), ex)

	pos := openPosition(t, c, ex, "BTC-USD")

	assert.Equal(t, exits.StatusOpen, pos.Status)
	assert.False(t, c.InFlight("BTC-USD"))
	assert.Empty(t, c.Pending())
	state := ledger.Snapshot()
	assert.InDelta(t, 9900.0, state.Available, 1e-9)
	assert.InDelta(t, 100.0, state.Reserved, 1e-9)
	ex.AssertExpectations(t)
}

func TestCoordinator_OneOrderPerInstrument(t *testing.T) {
	c, _, _ := newCoordinator(t, testConfig(), &mockExchange{})

	require.NoError(t, c.Submit(entryIntent(t, "BTC-USD", 1, 100)))
	err := c.Submit(entryIntent(t, "BTC-USD", 1, 100))
	assert.ErrorIs(t, err, ErrOrderInFlight)

	assert.NoError(t, c.Submit(entryIntent(t, "ETH-USD", 1, 100)))
	assert.Len(t, c.Pending(), 2)
}

func TestCoordinator_InvalidIntent(t *testing.T) {
	c, _, _ := newCoordinator(t, testConfig(), &mockExchange{})
	intent := entryIntent(t, "BTC-USD", 1, 100)
	intent.Quantity = 0
	assert.Error(t, c.Submit(intent))
	assert.False(t, c.InFlight("BTC-USD"))
}

func TestCoordinator_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	c, _, _ := newCoordinator(t, cfg, &mockExchange{})

	require.NoError(t, c.Submit(entryIntent(t, "BTC-USD", 1, 100)))
	err := c.Submit(entryIntent(t, "ETH-USD", 1, 100))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, c.InFlight("ETH-USD"))
}

func TestCoordinator_ExitClosesPosition(t *testing.T) {
	ex := &mockExchange{}
	c, ledger, _ := newCoordinator(t, testConfig(), ex)
	pos := openPosition(t, c, ex, "BTC-USD")

	exit := orders.NewExit("BTC-USD", pos.ID, domain.Long, pos.Size, 97, exits.StopLoss, -1, t0.Add(time.Hour))
	ex.On("SubmitOrder", mock.Anything, exit).Return(fillFor(exit, 97), nil).Once()

	require.NoError(t, c.Submit(exit))
	p, _ := ledger.Position("BTC-USD")
	assert.Equal(t, exits.StatusClosing, p.Status)

	res := c.Flush(context.Background())
	require.Len(t, res, 1)
	require.NotNil(t, res[0].Trade)
	assert.Equal(t, exits.StopLoss, res[0].Trade.ExitReason)
	assert.InDelta(t, -3.0, res[0].Trade.RealizedPnL, 1e-9)

	_, open := ledger.Position("BTC-USD")
	assert.False(t, open)
}

func TestCoordinator_DefinitiveRejectReopensPosition(t *testing.T) {
	ex := &mockExchange{}
	c, ledger, rec := newCoordinator(t, testConfig(), ex)
	pos := openPosition(t, c, ex, "BTC-USD")

	exit := orders.NewExit("BTC-USD", pos.ID, domain.Long, pos.Size, 97, exits.StopLoss, -1, t0)
	ex.On("SubmitOrder", mock.Anything, exit).
		Return(orders.Fill{}, &ExchangeError{Op: "submit", Code: "insufficient_funds"}).Once()

	require.NoError(t, c.Submit(exit))
	res := c.Flush(context.Background())
	require.Len(t, res, 1)
	assert.Equal(t, orders.StatusRejected, res[0].Status)
	assert.Equal(t, 1, res[0].Attempts)
	assert.Empty(t, rec.delays)

	p, ok := ledger.Position("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, exits.StatusOpen, p.Status)
	assert.False(t, c.InFlight("BTC-USD"))
}

func TestCoordinator_TimeoutCheckedBeforeResubmit(t *testing.T) {
	ex := &mockExchange{}
	c, ledger, rec := newCoordinator(t, testConfig(), ex)

	intent := entryIntent(t, "BTC-USD", 1, 100)
	fill := fillFor(intent, 100)
	ex.On("SubmitOrder", mock.Anything, intent).Return(orders.Fill{}, ErrExchangeTimeout).Once()
	ex.On("GetOrderStatus", mock.Anything, intent.ID).Return(orders.StatusFilled, &fill, nil).Once()

	require.NoError(t, c.Submit(intent))
	res := c.Flush(context.Background())
	require.Len(t, res, 1)
	assert.Equal(t, orders.StatusFilled, res[0].Status)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)

	ex.AssertNumberOfCalls(t, "SubmitOrder", 1)
	assert.Len(t, ledger.OpenPositions(), 1)
}

func TestCoordinator_RetriesWithBackoffThenPending(t *testing.T) {
	ex := &mockExchange{}
	c, ledger, rec := newCoordinator(t, testConfig(), ex)

	intent := entryIntent(t, "BTC-USD", 1, 100)
	transient := &ExchangeError{Op: "submit", Code: "unavailable", Retryable: true}
	ex.On("SubmitOrder", mock.Anything, intent).Return(orders.Fill{}, transient).Times(3)

	require.NoError(t, c.Submit(intent))
	res := c.Flush(context.Background())
	require.Len(t, res, 1)
	assert.Equal(t, orders.StatusPending, res[0].Status)
	assert.ErrorIs(t, res[0].Err, transient)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.True(t, c.InFlight("BTC-USD"))
	assert.Empty(t, ledger.OpenPositions())

	// The order reached the exchange after all.
	fill := fillFor(intent, 100.5)
	ex.On("GetOrderStatus", mock.Anything, intent.ID).Return(orders.StatusFilled, &fill, nil).Once()
	rec2 := c.Reconcile(context.Background())
	require.Len(t, rec2, 1)
	assert.Equal(t, orders.StatusFilled, rec2[0].Status)
	assert.False(t, c.InFlight("BTC-USD"))

	p, ok := ledger.Position("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 100.5, p.EntryPrice)
	ex.AssertExpectations(t)
}

func TestCoordinator_ReconcileResubmitsUnknown(t *testing.T) {
	ex := &mockExchange{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, ledger, _ := newCoordinator(t, cfg, ex)

	intent := entryIntent(t, "ETH-USD", 2, 50)
	ex.On("SubmitOrder", mock.Anything, intent).Return(orders.Fill{}, errors.New("connection reset")).Once()
	require.NoError(t, c.Submit(intent))
	c.Flush(context.Background())
	require.True(t, c.InFlight("ETH-USD"))

	ex.On("GetOrderStatus", mock.Anything, intent.ID).Return(orders.StatusUnknown, nil, nil).Once()
	ex.On("SubmitOrder", mock.Anything, intent).Return(fillFor(intent, 50), nil).Once()

	res := c.Reconcile(context.Background())
	require.Len(t, res, 1)
	assert.Equal(t, orders.StatusFilled, res[0].Status)
	assert.Len(t, ledger.OpenPositions(), 1)
	ex.AssertExpectations(t)
}

func TestCoordinator_ReconcileLeavesWorkingOrders(t *testing.T) {
	ex := &mockExchange{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, _, _ := newCoordinator(t, cfg, ex)

	intent := entryIntent(t, "ETH-USD", 2, 50)
	ex.On("SubmitOrder", mock.Anything, intent).Return(orders.Fill{}, ErrExchangeTimeout).Once()
	require.NoError(t, c.Submit(intent))
	c.Flush(context.Background())

	ex.On("GetOrderStatus", mock.Anything, intent.ID).Return(orders.StatusPending, nil, nil).Once()
	assert.Empty(t, c.Reconcile(context.Background()))
	assert.True(t, c.InFlight("ETH-USD"))

	ex.On("GetOrderStatus", mock.Anything, intent.ID).Return(orders.StatusRejected, nil, nil).Once()
	res := c.Reconcile(context.Background())
	require.Len(t, res, 1)
	assert.Equal(t, orders.StatusRejected, res[0].Status)
	assert.False(t, c.InFlight("ETH-USD"))
}

func TestCoordinator_BreakerOpens(t *testing.T) {
	ex := &mockExchange{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Hour
	c, _, _ := newCoordinator(t, cfg, ex)

	ex.On("SubmitOrder", mock.Anything, mock.Anything).Return(orders.Fill{}, errors.New("503")).Twice()

	for _, inst := range []string{"A-USD", "B-USD", "C-USD"} {
		require.NoError(t, c.Submit(entryIntent(t, inst, 1, 100)))
	}
	res := c.Flush(context.Background())
	require.Len(t, res, 3)

	assert.ErrorIs(t, res[2].Err, gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())
	ex.AssertNumberOfCalls(t, "SubmitOrder", 2)
}

type slowExchange struct {
	*Paper
}

func (s *slowExchange) SubmitOrder(ctx context.Context, intent orders.Intent) (orders.Fill, error) {
	<-ctx.Done()
	return orders.Fill{}, ctx.Err()
}

func TestCoordinator_CallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.MaxAttempts = 1
	c, _, _ := newCoordinator(t, cfg, &slowExchange{Paper: NewPaper(DefaultPaperConfig())})

	require.NoError(t, c.Submit(entryIntent(t, "BTC-USD", 1, 100)))
	res := c.Flush(context.Background())
	require.Len(t, res, 1)
	assert.Equal(t, orders.StatusPending, res[0].Status)
	assert.ErrorIs(t, res[0].Err, ErrExchangeTimeout)
}

func TestCoordinator_Cancel(t *testing.T) {
	ex := &mockExchange{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, _, _ := newCoordinator(t, cfg, ex)

	intent := entryIntent(t, "BTC-USD", 1, 100)
	ex.On("SubmitOrder", mock.Anything, intent).Return(orders.Fill{}, ErrExchangeTimeout).Once()
	ex.On("CancelOrder", mock.Anything, intent.ID).Return(nil).Once()
	require.NoError(t, c.Submit(intent))
	c.Flush(context.Background())

	require.NoError(t, c.Cancel(context.Background(), "BTC-USD"))
	assert.False(t, c.InFlight("BTC-USD"))
	assert.ErrorIs(t, c.Cancel(context.Background(), "BTC-USD"), ErrOrderNotFound)
}

type gatedExchange struct {
	*Paper
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedExchange) SubmitOrder(ctx context.Context, intent orders.Intent) (orders.Fill, error) {
	close(g.entered)
	<-g.proceed
	return g.Paper.SubmitOrder(ctx, intent)
}

func TestCoordinator_CancelRefusedUntilPending(t *testing.T) {
	ex := &gatedExchange{
		Paper:   NewPaper(PaperConfig{}),
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	c, ledger, _ := newCoordinator(t, testConfig(), ex)
	ctx := context.Background()

	require.NoError(t, c.Submit(entryIntent(t, "BTC-USD", 1, 100)))
	err := c.Cancel(ctx, "BTC-USD")
	assert.ErrorIs(t, err, ErrOrderInFlight, "queued order")

	done := make(chan []Result, 1)
	go func() { done <- c.Flush(ctx) }()
	<-ex.entered

	err = c.Cancel(ctx, "BTC-USD")
	assert.ErrorIs(t, err, ErrOrderInFlight, "order being submitted")
	assert.True(t, c.InFlight("BTC-USD"))

	close(ex.proceed)
	res := <-done
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.Equal(t, orders.StatusFilled, res[0].Status)
	assert.False(t, c.InFlight("BTC-USD"))
	assert.Len(t, ledger.OpenPositions(), 1)
}

func TestCoordinator_CancelFailureKeepsOrderPending(t *testing.T) {
	ex := &mockExchange{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, _, _ := newCoordinator(t, cfg, ex)

	intent := entryIntent(t, "BTC-USD", 1, 100)
	ex.On("SubmitOrder", mock.Anything, intent).Return(orders.Fill{}, ErrExchangeTimeout).Once()
	ex.On("CancelOrder", mock.Anything, intent.ID).Return(errors.New("unknown order")).Once()
	require.NoError(t, c.Submit(intent))
	c.Flush(context.Background())

	require.Error(t, c.Cancel(context.Background(), "BTC-USD"))
	assert.True(t, c.InFlight("BTC-USD"))
	assert.Equal(t, []orders.Intent{intent}, c.Pending())
}

func TestCoordinator_RunProcessesQueue(t *testing.T) {
	paper := NewPaper(PaperConfig{})
	c, ledger, _ := newCoordinator(t, testConfig(), paper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Submit(entryIntent(t, "BTC-USD", 1, 100)))
	require.Eventually(t, func() bool { return len(ledger.OpenPositions()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !c.InFlight("BTC-USD") }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCoordinator_DrainAndResume(t *testing.T) {
	ex := &mockExchange{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, ledger, _ := newCoordinator(t, cfg, ex)
	pos := openPosition(t, c, ex, "BTC-USD")

	exit := orders.NewExit("BTC-USD", pos.ID, domain.Long, pos.Size, 104, exits.TakeProfit, 0, t0)
	ex.On("SubmitOrder", mock.Anything, exit).Return(orders.Fill{}, ErrExchangeTimeout).Once()
	ex.On("GetOrderStatus", mock.Anything, exit.ID).Return(orders.StatusPending, nil, nil)
	require.NoError(t, c.Submit(exit))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Drain(ctx)
	require.Error(t, err)
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, exit.ID, pending[0].ID)

	// Restart: fresh ledger restored from the snapshot, fresh coordinator.
	state := ledger.Snapshot()
	ledger2 := portfolio.NewLedger(portfolio.DefaultConfig())
	require.NoError(t, ledger2.Restore(state))
	ex2 := &mockExchange{}
	c2 := NewCoordinator(cfg, ledger2, ex2, nil)
	c2.Resume(pending)

	p, _ := ledger2.Position("BTC-USD")
	assert.Equal(t, exits.StatusClosing, p.Status)

	fill := fillFor(exit, 104)
	ex2.On("GetOrderStatus", mock.Anything, exit.ID).Return(orders.StatusFilled, &fill, nil).Once()
	require.NoError(t, c2.Drain(context.Background()))

	state2 := ledger2.Snapshot()
	require.Len(t, state2.Trades, 1)
	assert.InDelta(t, 4.0, state2.Trades[0].RealizedPnL, 1e-9)
	assert.Empty(t, state2.Positions)
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.backoff(2))
	assert.Equal(t, 2*time.Second, cfg.backoff(3))
	assert.Equal(t, 4*time.Second, cfg.backoff(4))
	assert.Equal(t, 8*time.Second, cfg.backoff(5))
	assert.Equal(t, 10*time.Second, cfg.backoff(6))
	assert.Equal(t, 10*time.Second, cfg.backoff(20))

	require.NoError(t, cfg.Validate())
	cfg.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}

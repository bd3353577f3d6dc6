package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/orders"
)

func TestPaper_SlippageAndFees(t *testing.T) {
	p := NewPaper(PaperConfig{SlippageBps: 10, FeeBps: 10})
	ctx := context.Background()

	buy := entryIntent(t, "BTC-USD", 2, 100)
	fill, err := p.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, fill.Price, 1e-9)
	assert.InDelta(t, 100.1*2*0.001, fill.Fee, 1e-9)
	assert.Equal(t, buy.ID, fill.OrderID)
	assert.Equal(t, t0, fill.Time)

	sell := orders.NewExit("BTC-USD", "pos-1", domain.Long, 2, 100, exits.Manual, -1, t0)
	fill, err = p.SubmitOrder(ctx, sell)
	require.NoError(t, err)
	assert.InDelta(t, 99.9, fill.Price, 1e-9)
}

func TestPaper_UsesMark(t *testing.T) {
	p := NewPaper(PaperConfig{})
	p.SetMark("BTC-USD", 105)

	fill, err := p.SubmitOrder(context.Background(), entryIntent(t, "BTC-USD", 1, 100))
	require.NoError(t, err)
	assert.Equal(t, 105.0, fill.Price)
}

func TestPaper_IdempotentSubmit(t *testing.T) {
	p := NewPaper(DefaultPaperConfig())
	intent := entryIntent(t, "BTC-USD", 1, 100)

	first, err := p.SubmitOrder(context.Background(), intent)
	require.NoError(t, err)
	p.SetMark("BTC-USD", 200)
	second, err := p.SubmitOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	status, fill, err := p.GetOrderStatus(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, status)
	assert.Equal(t, first, *fill)
}

func TestPaper_StatusAndCancel(t *testing.T) {
	p := NewPaper(DefaultPaperConfig())
	ctx := context.Background()

	status, fill, err := p.GetOrderStatus(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusUnknown, status)
	assert.Nil(t, fill)

	require.NoError(t, p.CancelOrder(ctx, "missing"))
	status, _, _ = p.GetOrderStatus(ctx, "missing")
	assert.Equal(t, orders.StatusCanceled, status)

	intent := entryIntent(t, "BTC-USD", 1, 100)
	_, err = p.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	err = p.CancelOrder(ctx, intent.ID)
	var xe *ExchangeError
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, "already_filled", xe.Code)
	assert.False(t, xe.Retryable)
}

func TestPaper_WallClockWithoutCreationTime(t *testing.T) {
	p := NewPaper(PaperConfig{})
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	intent := entryIntent(t, "BTC-USD", 1, 100)
	intent.CreatedAt = time.Time{}
	fill, err := p.SubmitOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, fixed, fill.Time)
}

func TestPaper_CancelledContext(t *testing.T) {
	p := NewPaper(DefaultPaperConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.SubmitOrder(ctx, entryIntent(t, "BTC-USD", 1, 100))
	assert.ErrorIs(t, err, context.Canceled)
}

package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/exits"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSides(t *testing.T) {
	assert.Equal(t, Buy, OpenSide(domain.Long))
	assert.Equal(t, Sell, CloseSide(domain.Long))
	assert.Equal(t, Sell, OpenSide(domain.Short))
	assert.Equal(t, Buy, CloseSide(domain.Short))
}

func TestNewEntryAndExit(t *testing.T) {
	entry := NewEntry("BTC-USD", domain.Long, 2, 50, exits.Plan{}, now)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, Entry, entry.Purpose)
	assert.Equal(t, Buy, entry.Side)
	assert.Equal(t, 100.0, entry.Notional)
	assert.NoError(t, entry.Validate())

	exit := NewExit("BTC-USD", "pos-1", domain.Short, 1, 50, exits.StopLoss, -1, now)
	assert.Equal(t, Buy, exit.Side)
	assert.Equal(t, exits.StopLoss, exit.Reason)
	assert.NoError(t, exit.Validate())
	assert.NotEqual(t, entry.ID, exit.ID)
}

func TestIntentValidate(t *testing.T) {
	base := NewEntry("BTC-USD", domain.Long, 1, 50, exits.Plan{}, now)

	tests := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"no id", func(i *Intent) { i.ID = "" }},
		{"no instrument", func(i *Intent) { i.Instrument = "" }},
		{"zero quantity", func(i *Intent) { i.Quantity = 0 }},
		{"neutral", func(i *Intent) { i.Direction = domain.Neutral }},
		{"exit without position", func(i *Intent) { i.Purpose = Exit }},
		{"bad purpose", func(i *Intent) { i.Purpose = "hedge" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			assert.Error(t, in.Validate())
		})
	}
}

func TestFillNotional(t *testing.T) {
	assert.Equal(t, 150.0, Fill{Price: 50, Quantity: 3}.Notional())
}

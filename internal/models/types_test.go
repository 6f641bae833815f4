package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func openTrade() Trade {
	return Trade{
		ID:        "T1",
		Asset:     "EURUSD",
		Direction: DirectionCall,
		Amount:    decimal.NewFromInt(50),
		Duration:  60,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:    TradeStatusOpen,
		Result:    TradeResultPending,
	}
}

func TestSettleWin(t *testing.T) {
	t.Parallel()

	got := openTrade().Settle(true, decimal.NewFromInt(85), decimal.NewFromInt(1042))

	assert.Equal(t, TradeStatusCompleted, got.Status)
	assert.Equal(t, TradeResultWin, got.Result)
	assert.True(t, got.Profit.Equal(decimal.RequireFromString("42.5")), got.Profit.String())
	assert.True(t, got.BalanceAfter.Equal(decimal.NewFromInt(1042)))
	assert.Equal(t, "T1", got.ID)
}

func TestSettleLoss(t *testing.T) {
	t.Parallel()

	got := openTrade().Settle(false, decimal.NewFromInt(85), decimal.NewFromInt(950))

	assert.Equal(t, TradeResultLoss, got.Result)
	assert.True(t, got.Profit.Equal(decimal.NewFromInt(-50)), got.Profit.String())
}

func TestSettleKeepsOriginal(t *testing.T) {
	t.Parallel()

	trade := openTrade()
	_ = trade.Settle(true, decimal.NewFromInt(85), decimal.Zero)

	assert.Equal(t, TradeStatusOpen, trade.Status)
	assert.Equal(t, TradeResultPending, trade.Result)
}

func TestNewStats(t *testing.T) {
	t.Parallel()

	empty := NewStats(0, 0, 0, decimal.Zero)
	assert.Equal(t, 0, empty.TotalTrades)
	assert.True(t, empty.WinRate.IsZero())
	assert.True(t, empty.TotalProfit.IsZero())

	stats := NewStats(3, 2, 1, decimal.RequireFromString("34.999"))
	assert.Equal(t, "66.67", stats.WinRate.StringFixed(2))
	assert.Equal(t, "35.00", stats.TotalProfit.StringFixed(2))
}

func TestDirectionWire(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "call", DirectionCall.Wire())
	assert.Equal(t, "put", DirectionPut.Wire())
	assert.Equal(t, "", Direction("HOLD").Wire())
	assert.False(t, Direction("HOLD").Valid())
}

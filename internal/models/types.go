package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string
type TradeStatus string
type TradeResult string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"

	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusCompleted TradeStatus = "COMPLETED"

	TradeResultPending TradeResult = "PENDING"
	TradeResultWin     TradeResult = "WIN"
	TradeResultLoss    TradeResult = "LOSS"
)

// Broker-side spelling of the direction ("call"/"put").
func (d Direction) Wire() string {
	switch d {
	case DirectionCall:
		return "call"
	case DirectionPut:
		return "put"
	}
	return ""
}

func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// TradeSignal is the instruction extracted from one inbound message.
type TradeSignal struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
}

type Trade struct {
	ID           string          `json:"id"`
	Asset        string          `json:"asset"`
	Direction    Direction       `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	Duration     int             `json:"duration"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       TradeStatus     `json:"status"`
	Result       TradeResult     `json:"result"`
	Profit       decimal.Decimal `json:"profit"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

func (t Trade) IsCompleted() bool {
	return t.Status == TradeStatusCompleted
}

// Settle returns a copy of the trade moved to COMPLETED. Profit is
// amount*payout/100 on a win and -amount on a loss.
func (t Trade) Settle(win bool, payoutPercent, balance decimal.Decimal) Trade {
	settled := t
	settled.Status = TradeStatusCompleted
	settled.BalanceAfter = balance
	if win {
		settled.Result = TradeResultWin
		settled.Profit = t.Amount.Mul(payoutPercent).Div(decimal.NewFromInt(100))
	} else {
		settled.Result = TradeResultLoss
		settled.Profit = t.Amount.Neg()
	}
	return settled
}

type Stats struct {
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     decimal.Decimal `json:"win_rate"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

// NewStats rounds win rate and profit to two places; an empty set yields zeros.
func NewStats(total, wins, losses int, profit decimal.Decimal) Stats {
	rate := decimal.Zero
	if total > 0 {
		rate = decimal.NewFromInt(int64(wins)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(total)))
	}
	return Stats{
		TotalTrades: total,
		Wins:        wins,
		Losses:      losses,
		WinRate:     rate.Round(2),
		TotalProfit: profit.Round(2),
	}
}

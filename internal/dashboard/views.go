package dashboard

import (
	"signalbot/internal/models"
	"time"
)

// Money and rates go out as JSON numbers, not decimal strings.

type statsView struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	TotalProfit float64 `json:"total_profit"`
}

type tradeView struct {
	ID           string    `json:"id"`
	Asset        string    `json:"asset"`
	Direction    string    `json:"direction"`
	Amount       float64   `json:"amount"`
	Duration     int       `json:"duration"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	Result       string    `json:"result"`
	Profit       float64   `json:"profit"`
	BalanceAfter float64   `json:"balance_after"`
}

func newStatsView(s models.Stats) statsView {
	return statsView{
		TotalTrades: s.TotalTrades,
		Wins:        s.Wins,
		Losses:      s.Losses,
		WinRate:     s.WinRate.InexactFloat64(),
		TotalProfit: s.TotalProfit.InexactFloat64(),
	}
}

func newTradeViews(trades []models.Trade) []tradeView {
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			ID:           t.ID,
			Asset:        t.Asset,
			Direction:    string(t.Direction),
			Amount:       t.Amount.InexactFloat64(),
			Duration:     t.Duration,
			Timestamp:    t.Timestamp,
			Status:       string(t.Status),
			Result:       string(t.Result),
			Profit:       t.Profit.InexactFloat64(),
			BalanceAfter: t.BalanceAfter.InexactFloat64(),
		})
	}
	return views
}

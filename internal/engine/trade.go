package engine

import (
	"context"
	"signalbot/internal/config"
	"signalbot/internal/exchange"
	"signalbot/internal/ledger"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/notify"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Executor runs one trade at a time from signal to settlement and records
// it in the ledger twice: when opened and when settled.
type Executor struct {
	mu       sync.Mutex
	amount   decimal.Decimal
	duration time.Duration
	store    ledger.Store
	notifier notify.Notifier
	log      *logger.Logger
	now      func() time.Time

	lookupAttempts int
	lookupBackoff  time.Duration
}

func NewExecutor(cfg config.TradeConfig, store ledger.Store, notifier notify.Notifier, log *logger.Logger) *Executor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Executor{
		amount:   cfg.Stake(),
		duration: cfg.Duration,
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,

		lookupAttempts: 3,
		lookupBackoff:  time.Second,
	}
}

// Execute never returns an error: every failure is logged and ends the trade.
// Cancelling ctx does not interrupt a trade that has started.
func (x *Executor) Execute(ctx context.Context, sess exchange.Session, sig models.TradeSignal) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	log := x.log.WithSymbol(sig.Symbol).WithFields(logrus.Fields{
		"component": "trade",
		"direction": sig.Direction,
	})

	asset, err := sess.GetAvailableAsset(ctx, sig.Symbol, true)
	if err != nil {
		log.WithError(err).Warn("Не удалось проверить доступность актива.")
		return
	}
	if !asset.Open {
		log.WithField("asset", asset.Name).Warn("Актив закрыт для торговли.")
		return
	}

	order, err := sess.Buy(ctx, x.amount, asset.Name, sig.Direction, x.duration)
	if err != nil {
		log.WithError(err).WithField("asset", asset.Name).Error("Не удалось открыть сделку.")
		return
	}

	trade := models.Trade{
		ID:           order.ID,
		Asset:        asset.Name,
		Direction:    sig.Direction,
		Amount:       x.amount,
		Duration:     int(x.duration / time.Second),
		Timestamp:    x.now().UTC(),
		Status:       models.TradeStatusOpen,
		Result:       models.TradeResultPending,
		Profit:       decimal.Zero,
		BalanceAfter: decimal.Zero,
	}
	log = x.log.WithTradeID(trade.ID).WithFields(log.Data)
	log.WithField("asset", trade.Asset).WithField("amount", trade.Amount.String()).Info("Сделка открыта.")

	if err := x.store.LogTrade(ctx, trade); err != nil {
		log.WithError(err).Error("Не удалось записать открытую сделку.")
	}
	if err := x.notifier.TradeOpened(ctx, trade); err != nil {
		log.WithError(err).Warn("Не удалось отправить уведомление.")
	}

	win, err := sess.CheckWin(ctx, trade.ID)
	if err != nil {
		log.WithError(err).Error("Не удалось получить результат сделки, запись остается открытой.")
		return
	}

	balance, err := withRetry(ctx, log, x.lookupAttempts, x.lookupBackoff, func() (decimal.Decimal, error) {
		return sess.Balance(ctx)
	})
	if err != nil {
		log.WithError(err).Warn("Не удалось получить баланс.")
		balance = decimal.Zero
	}
	payout, err := withRetry(ctx, log, x.lookupAttempts, x.lookupBackoff, func() (decimal.Decimal, error) {
		return sess.PayoutByAsset(ctx, trade.Asset)
	})
	if err != nil {
		log.WithError(err).Warn("Не удалось получить выплату по активу.")
		payout = decimal.Zero
	}

	settled := trade.Settle(win, payout, balance)
	if err := x.store.LogTrade(ctx, settled); err != nil {
		log.WithError(err).Error("Не удалось записать результат сделки.")
	}
	if err := x.notifier.TradeSettled(ctx, settled); err != nil {
		log.WithError(err).Warn("Не удалось отправить уведомление.")
	}

	log.WithFields(logrus.Fields{
		"result":  settled.Result,
		"profit":  settled.Profit.String(),
		"balance": settled.BalanceAfter.String(),
	}).Info("Сделка закрыта.")
}

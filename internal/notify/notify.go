package notify

import (
	"context"
	"fmt"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Notifier is told about every trade that opens and settles. Errors are
// reported to the caller, which only logs them.
type Notifier interface {
	TradeOpened(ctx context.Context, trade models.Trade) error
	TradeSettled(ctx context.Context, trade models.Trade) error
}

type Nop struct{}

func (Nop) TradeOpened(context.Context, models.Trade) error  { return nil }
func (Nop) TradeSettled(context.Context, models.Trade) error { return nil }

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts trade messages to one chat, at most perSecond messages a second.
type Telegram struct {
	bot     sender
	chatID  int64
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewTelegram(token string, chatID int64, perSecond float64, log *logger.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("Не удалось подключиться к Telegram: %w", err)
	}
	log.WithComponent("notify").WithField("bot", bot.Self.UserName).Info("Уведомления Telegram включены.")
	return newTelegram(bot, chatID, perSecond, log), nil
}

func newTelegram(bot sender, chatID int64, perSecond float64, log *logger.Logger) *Telegram {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Telegram{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (t *Telegram) TradeOpened(ctx context.Context, trade models.Trade) error {
	return t.send(ctx, openedText(trade))
}

func (t *Telegram) TradeSettled(ctx context.Context, trade models.Trade) error {
	return t.send(ctx, settledText(trade))
}

func (t *Telegram) send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("Не удалось отправить сообщение в Telegram: %w", err)
	}
	return nil
}

func openedText(trade models.Trade) string {
	return fmt.Sprintf("Сделка открыта: %s %s, ставка %s, %d с.\nID: %s",
		trade.Asset, trade.Direction, trade.Amount.StringFixed(2), trade.Duration, trade.ID)
}

func settledText(trade models.Trade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Сделка закрыта: %s %s, %s.\n", trade.Asset, trade.Direction, trade.Result)
	fmt.Fprintf(&b, "Прибыль: %s\n", trade.Profit.StringFixed(2))
	fmt.Fprintf(&b, "Баланс: %s\n", trade.BalanceAfter.StringFixed(2))
	fmt.Fprintf(&b, "ID: %s", trade.ID)
	return b.String()
}

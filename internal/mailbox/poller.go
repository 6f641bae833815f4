package mailbox

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler receives every accepted signal. It runs on the poller goroutine,
// so the next message is not read until it returns.
type Handler func(ctx context.Context, sig models.TradeSignal)

type Config struct {
	User          string
	Password      string
	Folder        string
	SubjectFilter string
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
}

type Poller struct {
	cfg    Config
	dialer Dialer
	handle Handler
	log    *logger.Logger
}

func NewPoller(cfg Config, dialer Dialer, handle Handler, log *logger.Logger) *Poller {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Poller{cfg: cfg, dialer: dialer, handle: handle, log: log}
}

// Run polls until ctx is cancelled. Cycle errors are logged and retried after
// ErrorBackoff; they never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logEntry().WithField("subject", p.cfg.SubjectFilter).Info("Мониторинг почты запущен.")

	for {
		n, err := p.Cycle(ctx)
		wait := p.cfg.PollInterval
		switch {
		case ctx.Err() != nil:
			p.logEntry().Info("Мониторинг почты остановлен.")
			return nil
		case err != nil:
			p.logEntry().WithError(err).Error("Ошибка при проверке почты.")
			wait = p.cfg.ErrorBackoff
		case n > 0:
			p.logEntry().WithField("processed", n).Debug("Цикл проверки почты завершен.")
		}

		select {
		case <-ctx.Done():
			p.logEntry().Info("Мониторинг почты остановлен.")
			return nil
		case <-time.After(wait):
		}
	}
}

// Cycle opens a fresh session, processes every unread matching message and
// logs out. It returns the number of signals handed to the handler.
func (p *Poller) Cycle(ctx context.Context) (int, error) {
	log := p.log.WithCycleID(uuid.NewString()).WithField("component", "mailbox")

	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := conn.Logout(); err != nil {
			log.WithError(err).Debug("Ошибка выхода из почты.")
		}
	}()

	if err := conn.Login(p.cfg.User, p.cfg.Password); err != nil {
		return 0, err
	}
	if err := conn.Select(p.cfg.Folder); err != nil {
		return 0, err
	}

	ids, err := conn.SearchUnseen(p.cfg.SubjectFilter)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		log.WithField("count", len(ids)).Info("Найдены новые письма.")
	}

	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		raw, err := conn.Fetch(id)
		if err != nil {
			return processed, fmt.Errorf("Ошибка получения письма %d: %w", id, err)
		}

		if p.process(ctx, log.WithField("message_id", id), raw) {
			processed++
		}
	}
	return processed, nil
}

func (p *Poller) process(ctx context.Context, log *logrus.Entry, raw []byte) bool {
	msg, err := ParseMessage(raw)
	if err != nil {
		log.WithError(err).Warn("Письмо пропущено.")
		return false
	}
	log = log.WithField("subject", msg.Subject)
	log.Info("Обработка письма.")

	if strings.TrimSpace(msg.Body) == "" {
		log.Warn("Пустое тело письма.")
		return false
	}

	sig, err := signal.Extract(msg.Body)
	if err != nil {
		var rej *signal.RejectError
		if errors.As(err, &rej) {
			log = log.WithField("reason", rej.Reason)
		}
		log.WithError(err).Warn("Сигнал отклонен.")
		return false
	}

	p.log.WithSymbol(sig.Symbol).WithFields(log.Data).
		WithField("direction", sig.Direction).
		Info("Получен торговый сигнал.")
	p.handle(ctx, sig)
	return true
}

func (p *Poller) logEntry() *logrus.Entry {
	return p.log.WithComponent("mailbox")
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/config"
	"signalbot/internal/exchange"
	"signalbot/internal/ledger"
	"signalbot/internal/logger"
	"signalbot/internal/mailbox"
	"signalbot/internal/models"
	"signalbot/internal/notify"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

var ErrAlreadyStarted = errors.New("engine already started")

type runner interface {
	Run(ctx context.Context) error
}

// Engine owns the brokerage session. It keeps it alive, rebuilds it when
// keepalive gives up, and lends it to the mailbox poller's trades.
type Engine struct {
	cfg      *config.Config
	factory  exchange.Factory
	log      *logger.Logger
	executor *Executor
	poller   runner
	sessions *holder

	started atomic.Bool
	mu      sync.Mutex
	state   State
}

func New(cfg *config.Config, factory exchange.Factory, dialer mailbox.Dialer, store ledger.Store, notifier notify.Notifier, log *logger.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		factory:  factory,
		log:      log,
		executor: NewExecutor(cfg.Trade, store, notifier, log),
		sessions: newHolder(),
		state:    StateDisconnected,
	}
	e.poller = mailbox.NewPoller(mailbox.Config{
		User:          cfg.Mailbox.User,
		Password:      cfg.Mailbox.Password,
		Folder:        cfg.Mailbox.Folder,
		SubjectFilter: cfg.Mailbox.SubjectFilter,
		PollInterval:  cfg.Runtime.PollInterval,
		ErrorBackoff:  cfg.Runtime.ErrorBackoff,
	}, dialer, e.handleSignal, log)
	return e
}

// Start runs the poller and the session lifecycle until ctx is cancelled.
// The poller is started once and survives session rebuilds.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	e.logEntry().Info("Бот запущен.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.poller.Run(gctx)
	})
	g.Go(func() error {
		return e.lifecycle(gctx)
	})

	err := g.Wait()
	e.logEntry().Info("Бот остановлен.")
	return err
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev != s {
		e.logEntry().WithField("state", s).Debug("Состояние сессии изменено.")
	}
}

func (e *Engine) handleSignal(ctx context.Context, sig models.TradeSignal) {
	sess, err := e.sessions.Wait(ctx)
	if err != nil {
		e.logEntry().WithField("symbol", sig.Symbol).Warn("Сигнал пропущен: нет сессии брокера.")
		return
	}
	e.executor.Execute(ctx, sess, sig)
}

func (e *Engine) lifecycle(ctx context.Context) error {
	for {
		err := e.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		e.logEntry().WithError(err).WithField("delay", e.cfg.Runtime.ReconnectDelay).
			Error("Сессия брокера потеряна, повторное подключение.")
		if !sleepCtx(ctx, e.cfg.Runtime.ReconnectDelay) {
			return nil
		}
	}
}

func (e *Engine) runSession(ctx context.Context) error {
	e.setState(StateConnecting)
	sess := e.factory()
	defer e.teardown(ctx, sess)

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("Не удалось подключиться к брокеру: %w", err)
	}
	e.setState(StateConnected)
	e.sessions.publish(sess)
	e.logEntry().Info("Сессия брокера установлена.")

	return e.keepalive(ctx, sess)
}

// teardown withdraws the session and closes it. On shutdown it first waits
// for the in-flight trade; a broken session is closed at once so that a
// trade blocked on it fails instead of hanging.
func (e *Engine) teardown(ctx context.Context, sess exchange.Session) {
	e.sessions.unpublish()
	e.setState(StateDisconnected)

	if ctx.Err() != nil {
		e.executor.mu.Lock()
		defer e.executor.mu.Unlock()
	}
	if err := sess.Close(); err != nil {
		e.logEntry().WithError(err).Debug("Ошибка при закрытии сессии.")
	}
}

func (e *Engine) keepalive(ctx context.Context, sess exchange.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Паника в keepalive: %v", r)
		}
	}()

	ticker := time.NewTicker(e.cfg.Runtime.KeepaliveInterval)
	defer ticker.Stop()

	limit := e.cfg.Runtime.MaxReconnectFailures
	if limit < 1 {
		limit = 1
	}
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if sess.CheckConnected(ctx) {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		e.setState(StateConnecting)
		e.logEntry().Warn("Соединение с брокером потеряно, переподключение.")
		if err := sess.Connect(ctx); err != nil {
			failures++
			e.logEntry().WithError(err).WithField("attempt", failures).Warn("Переподключение не удалось.")
			if failures >= limit {
				return fmt.Errorf("Не удалось восстановить соединение за %d попыток: %w", failures, err)
			}
			continue
		}
		failures = 0
		e.setState(StateConnected)
		e.logEntry().Info("Соединение с брокером восстановлено.")
	}
}

// holder publishes the current session. Wait blocks until one is available.
type holder struct {
	mu      sync.Mutex
	session exchange.Session
	ready   chan struct{}
}

func newHolder() *holder {
	return &holder{ready: make(chan struct{})}
}

func (h *holder) publish(s exchange.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		close(h.ready)
	}
	h.session = s
}

func (h *holder) unpublish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil {
		h.session = nil
		h.ready = make(chan struct{})
	}
}

func (h *holder) Wait(ctx context.Context) (exchange.Session, error) {
	for {
		h.mu.Lock()
		s, ready := h.session, h.ready
		h.mu.Unlock()
		if s != nil {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

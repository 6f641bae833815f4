package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"signalbot/internal/config"
	"signalbot/internal/dashboard"
	"signalbot/internal/engine"
	"signalbot/internal/exchange"
	"signalbot/internal/exchange/bridge"
	"signalbot/internal/exchange/paper"
	"signalbot/internal/logger"
	"signalbot/internal/mailbox"
	"signalbot/internal/notify"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot and the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), *configPath)
		},
	}
}

func runBot(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureCredentials(config.NewTerminalPrompter()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Ошибка при закрытии журнала сделок.")
		}
	}()

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return err
	}

	dialer := mailbox.IMAPDialer{
		Addr:    cfg.Mailbox.Addr(),
		TLS:     &tls.Config{ServerName: cfg.Mailbox.Host},
		Timeout: 30 * time.Second,
	}
	eng := engine.New(cfg, newSessionFactory(cfg, log), dialer, store, notifier, log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Start(gctx)
	})
	if cfg.Dashboard.Addr != "" {
		srv := dashboard.NewServer(cfg.Dashboard.Addr, store, func() string { return string(eng.State()) }, log)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				log.WithComponent("dashboard").WithError(err).Error("Панель завершилась с ошибкой.")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("\"Двигатель\" завершился с ошибкой.")
		return err
	}
	return nil
}

func newSessionFactory(cfg *config.Config, log *logger.Logger) exchange.Factory {
	if cfg.Broker.Driver == "bridge" {
		return func() exchange.Session {
			return bridge.New(cfg.Broker.URL, cfg.Broker.Email, cfg.Broker.Password, cfg.Broker.Timeout, log)
		}
	}

	// One paper account for the whole run so the balance survives reconnects.
	sess := paper.New(paperConfig(cfg.Paper), log)
	return func() exchange.Session {
		return sess
	}
}

func paperConfig(pc config.PaperConfig) paper.Config {
	var payouts map[string]decimal.Decimal
	if len(pc.Payouts) > 0 {
		payouts = make(map[string]decimal.Decimal, len(pc.Payouts))
		for asset, p := range pc.Payouts {
			payouts[asset] = decimal.NewFromFloat(p)
		}
	}
	return paper.Config{
		Balance:       decimal.NewFromFloat(pc.Balance),
		DefaultPayout: decimal.NewFromFloat(pc.Payout),
		Payouts:       payouts,
		ClosedAssets:  pc.ClosedAssets,
		WinRate:       pc.WinRate,
	}
}

func newNotifier(cfg *config.Config, log *logger.Logger) (notify.Notifier, error) {
	if cfg.Notify.TelegramToken == "" {
		return notify.Nop{}, nil
	}
	return notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.RatePerSecond, log)
}

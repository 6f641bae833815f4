package main

import (
	"fmt"
	"signalbot/internal/config"
	"signalbot/internal/ledger"
	"signalbot/internal/logger"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "signalbot",
		Short: "Trades binary options on signals received by email",
		Long: `signalbot watches a mailbox for signal emails such as
{"symbol":"EURUSD","side":"Buy"}, opens a fixed-stake trade for each one,
waits for settlement and records every trade in a local ledger.

Settings are read from settings/config.yaml (or --config / $CONFIG_PATH)
and SIGNALBOT_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the settings file")

	root.AddCommand(
		newRunCmd(&configPath),
		newTradesCmd(&configPath),
		newStatsCmd(&configPath),
	)
	return root
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})
}

func openLedger(cfg *config.Config) (ledger.Store, error) {
	store, err := ledger.Open(ledger.Config{Driver: cfg.Ledger.Driver, Path: cfg.Ledger.Path})
	if err != nil {
		return nil, fmt.Errorf("Не удалось открыть журнал сделок: %w", err)
	}
	return store, nil
}

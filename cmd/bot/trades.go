package main

import (
	"fmt"
	"io"
	"signalbot/internal/config"
	"signalbot/internal/ledger"
	"signalbot/internal/models"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTradesCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List recent trades, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.RecentTrades(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printTrades(cmd.OutOrStdout(), trades)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", ledger.DefaultRecentLimit, "number of trades to show")
	return cmd
}

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show win rate and profit over settled trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printTrades(w io.Writer, trades []models.Trade) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tASSET\tDIR\tAMOUNT\tSTATUS\tRESULT\tPROFIT\tBALANCE")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Timestamp.Local().Format("2006-01-02 15:04:05"),
			t.ID,
			t.Asset,
			t.Direction,
			t.Amount.StringFixed(2),
			t.Status,
			t.Result,
			t.Profit.StringFixed(2),
			t.BalanceAfter.StringFixed(2),
		)
	}
	return tw.Flush()
}

func printStats(w io.Writer, s models.Stats) {
	fmt.Fprintf(w, "Trades:   %d\n", s.TotalTrades)
	fmt.Fprintf(w, "Wins:     %d\n", s.Wins)
	fmt.Fprintf(w, "Losses:   %d\n", s.Losses)
	fmt.Fprintf(w, "Win rate: %s%%\n", s.WinRate.StringFixed(2))
	fmt.Fprintf(w, "Profit:   %s\n", s.TotalProfit.StringFixed(2))
}

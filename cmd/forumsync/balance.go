package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackmichael/forum-sync/internal/metrics"
)

type balanceOptions struct {
	*rootOptions
	asJSON  bool
	timeout time.Duration
}

func newBalanceCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &balanceOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Fetch and print the wallet balance and boost allowance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBalance(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "overall request timeout")

	return cmd
}

func runBalance(cmd *cobra.Command, opts *balanceOptions) error {
	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, metrics.Nop{}, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	wallet, err := eng.RefreshBalance(ctx)
	if err != nil {
		return err
	}
	boost, err := eng.BoostInfo(ctx)
	if err != nil {
		logger.Warn("boost info unavailable", "error", err)
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		return json.NewEncoder(out).Encode(map[string]any{
			"balance":          wallet.Display(),
			"boosts_remaining": boost.Remaining(),
			"boost_limit":      boost.Limit,
		})
	}
	fmt.Fprintf(out, "Balance: %d coins\n", wallet.Display())
	if boost.Limit > 0 {
		fmt.Fprintf(out, "Boosts left today: %d of %d\n", boost.Remaining(), boost.Limit)
	}
	return nil
}

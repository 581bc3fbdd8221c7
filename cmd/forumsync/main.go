package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackmichael/forum-sync/internal/api"
	"github.com/blackmichael/forum-sync/internal/catalog"
	"github.com/blackmichael/forum-sync/internal/config"
	"github.com/blackmichael/forum-sync/internal/engine"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/polling"
	"github.com/blackmichael/forum-sync/internal/queue"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "forumsync",
		Short:         "Keep a local cache of forum content in sync with the backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default $FORUMSYNC_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newBalanceCommand(opts))

	return cmd
}

// setup loads the configuration and builds the logger every command uses.
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	return cfg, logger, nil
}

// newEngine builds the backend client and the engine from cfg.
func newEngine(cfg *config.Config, recorder metrics.Recorder, logger *slog.Logger) (*engine.Engine, error) {
	client := api.NewClient(api.Options{
		BaseURL: cfg.APIURL,
		Token:   cfg.Token,
		Timeout: cfg.Polling.FetchTimeout,
	}, logger.With("component", "api"))

	opts := engine.DefaultOptions()
	opts.Queue = queue.Options{
		Throttle:   cfg.Queue.Throttle,
		FlushDelay: cfg.Queue.FlushDelay,
		MaxBatch:   cfg.Queue.MaxBatch,
	}
	opts.Polling = polling.Options{
		Interval:          cfg.Polling.Interval,
		BackoffFactor:     cfg.Polling.BackoffFactor,
		MaxRetries:        cfg.Polling.MaxRetries,
		RateLimitCooldown: cfg.Polling.RateLimitCooldown,
		FetchTimeout:      cfg.Polling.FetchTimeout,
	}
	opts.Catalog = catalog.Options{
		PackagesTTL: cfg.TTL.Packages,
		ItemsTTL:    cfg.TTL.Items,
	}
	opts.WalletTTL = cfg.TTL.Wallet
	opts.BoostInfoTTL = cfg.TTL.BoostInfo
	opts.FeedProbeInterval = cfg.Polling.FeedProbeInterval
	opts.ScrollPreservation = cfg.ScrollPreservation
	opts.Metrics = recorder

	eng, err := engine.New(client, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}

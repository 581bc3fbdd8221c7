package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackmichael/forum-sync/internal/cache"
	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/engine"
	"github.com/blackmichael/forum-sync/internal/httpserver"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/push"
)

type watchOptions struct {
	*rootOptions
	scope         string
	sort          string
	limit         int
	statsInterval time.Duration
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &watchOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the sync engine until interrupted",
		Long: `Connect to the push channel, keep a feed and the wallet in sync, and
serve health, metrics and cache snapshots on the debug address.

Example:
  forumsync watch --scope global --sort new
  FORUMSYNC_PUSH_URL= forumsync watch   # polling only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scope, "scope", domain.GlobalScope, "feed scope: global or a thread id")
	cmd.Flags().StringVar(&opts.sort, "sort", string(domain.SortNew), "feed sort: new, hot or top")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "feed page size")
	cmd.Flags().DurationVar(&opts.statsInterval, "stats-interval", 30*time.Second, "how often to log sync stats")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("forumsync")
	eng, err := newEngine(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := eng.Subscribe(func(c cache.Change) {
		logger.Debug("cache changed", "key", c.Key, "revision", c.Revision)
	})
	defer unsubscribe()

	feed := domain.FeedQuery{Scope: opts.scope, Sort: domain.FeedSort(opts.sort), Limit: opts.limit}
	if _, err := eng.LoadFeed(ctx, feed); err != nil {
		logger.Warn("initial feed load failed, relying on the probe", "feed", feed.String(), "error", err)
	}
	unwatch, err := eng.WatchFeed(feed)
	if err != nil {
		return err
	}
	defer unwatch()

	if err := eng.StartPolling(engine.WalletResource); err != nil {
		return fmt.Errorf("start wallet polling: %w", err)
	}
	defer eng.StopPolling(engine.WalletResource)

	if cfg.PushURL != "" {
		client := push.New(push.Options{
			URL:   cfg.PushURL,
			Token: cfg.Token,
			Rooms: cfg.Rooms,
		}, eng.HandleMessage, eng.SetPushConnected, logger.With("component", "push"))
		go func() {
			if err := client.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("push client exited with error", "error", err)
			}
		}()
	} else {
		logger.Warn("no push url configured, polling only")
	}

	go eng.Run(ctx, opts.statsInterval)

	server := httpserver.NewServer(cfg.DebugAddr, eng, collector.Registry(), logger.With("component", "http"))
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug server exited with error", "error", err)
		}
	}()

	logger.Info("watching", "feed", feed.String(), "debug_addr", cfg.DebugAddr, "push", cfg.PushURL != "")

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down debug server", "error", err)
	}
	return nil
}

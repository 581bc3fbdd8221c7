package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/forum-sync/internal/cache"
	"github.com/blackmichael/forum-sync/internal/catalog"
	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/ingest"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/optimistic"
	"github.com/blackmichael/forum-sync/internal/polling"
	"github.com/blackmichael/forum-sync/internal/queue"
	"github.com/blackmichael/forum-sync/internal/scheduler"
	"github.com/blackmichael/forum-sync/internal/scroll"
)

// Polled resource keys.
const (
	WalletResource    = cache.WalletKey
	BoostInfoResource = "boost-info"
	feedProbePrefix   = "feed-probe:"
)

// FeedProbeResource returns the polled resource key of a feed's new-post
// probe.
func FeedProbeResource(q domain.FeedQuery) string {
	return feedProbePrefix + q.Key()
}

// Options configures an Engine. Zero values take package defaults.
type Options struct {
	Queue   queue.Options
	Polling polling.Options
	Catalog catalog.Options

	WalletTTL         time.Duration
	BoostInfoTTL      time.Duration
	FeedProbeInterval time.Duration

	// ScrollPreservation keeps the viewport in place across cache writes
	// applied from batches and loads. Viewport may be nil when there is
	// nothing to preserve.
	ScrollPreservation bool
	Viewport           scroll.Viewport
	Frames             scroll.FrameScheduler

	Clock     scheduler.Clock
	Metrics   metrics.Recorder
	NewTempID func() string
}

// DefaultOptions returns the engine configuration used when nothing is
// configured.
func DefaultOptions() Options {
	return Options{
		Queue:              queue.DefaultOptions(),
		Polling:            polling.DefaultOptions(),
		WalletTTL:          300 * time.Second,
		BoostInfoTTL:       10 * time.Minute,
		ScrollPreservation: true,
	}
}

// Stats aggregates the counters of the engine's components.
type Stats struct {
	Queue   queue.Stats      `json:"queue"`
	Ingest  ingest.Stats     `json:"ingest"`
	Polling []polling.Status `json:"polling"`
	Keys    []string         `json:"keys"`
	Push    bool             `json:"push_connected"`
}

// Engine is the sync service for one session.
type Engine struct {
	backend domain.Backend
	opts    Options
	logger  *slog.Logger
	metrics metrics.Recorder

	sched    *scheduler.Scheduler
	store    *cache.Store
	queue    *queue.Queue
	ingestor *ingest.Ingestor
	poller   *polling.Supervisor
	catalog  *catalog.Catalog
	applier  *optimistic.Applier
	scroll   *scroll.Preserver

	mu   sync.Mutex
	push bool
}

// New creates an engine reading from backend.
func New(backend domain.Backend, opts Options, logger *slog.Logger) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	defaults := DefaultOptions()
	if opts.Clock == nil {
		opts.Clock = scheduler.SystemClock
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.WalletTTL <= 0 {
		opts.WalletTTL = defaults.WalletTTL
	}
	if opts.BoostInfoTTL <= 0 {
		opts.BoostInfoTTL = defaults.BoostInfoTTL
	}
	if opts.Queue.FlushDelay <= 0 {
		opts.Queue.FlushDelay = defaults.Queue.FlushDelay
	}
	opts.Queue.Metrics = opts.Metrics
	opts.Polling.Metrics = opts.Metrics
	opts.Catalog.Metrics = opts.Metrics

	e := &Engine{
		backend: backend,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		sched:   scheduler.New(opts.Clock),
		store:   cache.NewStore(),
		scroll:  scroll.New(opts.Viewport, opts.Frames, opts.ScrollPreservation),
	}
	e.queue = queue.New(e.sched, opts.Queue, e.applyBatch, logger.With("component", "queue"))
	e.ingestor = ingest.New(ingest.SinkFunc(e.enqueue), opts.Metrics, logger.With("component", "ingest"))
	e.poller = polling.New(e.sched, opts.Polling, logger.With("component", "polling"))
	e.catalog = catalog.New(backend, opts.Catalog, e.sched.Now, logger.With("component", "catalog"))
	e.applier = optimistic.New(e.store, opts.NewTempID, logger.With("component", "optimistic"))

	if err := e.poller.Register(polling.Resource{
		Key:         WalletResource,
		Mode:        polling.FetchOnce,
		TTL:         opts.WalletTTL,
		PushCovered: true,
		Fetch: func(ctx context.Context) (any, error) {
			return backend.GetWalletBalance(ctx)
		},
		Deliver: func(v any) {
			if w, ok := v.(domain.WalletUpdate); ok {
				e.commit(domain.KindBalanceUpdated, cache.WalletKey, w)
			}
		},
	}); err != nil {
		return nil, fmt.Errorf("register wallet: %w", err)
	}
	if err := e.poller.Register(polling.Resource{
		Key:  BoostInfoResource,
		Mode: polling.FetchOnce,
		TTL:  opts.BoostInfoTTL,
		Fetch: func(ctx context.Context) (any, error) {
			return backend.GetDailyBoostInfo(ctx)
		},
	}); err != nil {
		return nil, fmt.Errorf("register boost info: %w", err)
	}
	return e, nil
}

// enqueue is the ingestion sink. Accepted wallet balances also count as
// obtained for the fallback poller.
func (e *Engine) enqueue(kind domain.UpdateKind, targetKey string, payload any) bool {
	w, isWallet := payload.(domain.WalletUpdate)
	if isWallet && kind == domain.KindBalanceUpdated && w.At.IsZero() {
		w.At = e.sched.Now()
		payload = w
	}
	if !e.queue.Enqueue(kind, targetKey, payload) {
		return false
	}
	if isWallet && kind == domain.KindBalanceUpdated {
		e.poller.Observe(WalletResource, w)
	}
	return true
}

// applyBatch writes a flushed batch into the store.
func (e *Engine) applyBatch(batch []domain.Update) {
	e.scroll.Preserve(func() {
		for _, u := range batch {
			changed, err := e.store.Apply(u)
			if err != nil {
				e.logger.Warn("update not applied", "kind", u.Kind, "target", u.TargetKey, "error", err)
				continue
			}
			e.metrics.Applied(string(u.Kind), changed)
		}
	})
}

// commit applies a fetched value right away. Fetch results are not subject
// to the push throttle.
func (e *Engine) commit(kind domain.UpdateKind, targetKey string, payload any) {
	e.applyBatch([]domain.Update{{Kind: kind, TargetKey: targetKey, Payload: payload, Timestamp: e.sched.Now()}})
}

// QueueUpdate offers an update record to the queue. It reports whether the
// record was accepted.
func (e *Engine) QueueUpdate(kind domain.UpdateKind, targetKey string, payload any) bool {
	return e.enqueue(kind, targetKey, payload)
}

// HandleMessage ingests one raw push message.
func (e *Engine) HandleMessage(msg []byte) error {
	return e.ingestor.HandleMessage(msg)
}

// HandleEvent ingests one named push event.
func (e *Engine) HandleEvent(name string, data json.RawMessage) error {
	return e.ingestor.HandleEvent(name, data)
}

// Flush applies queued updates now.
func (e *Engine) Flush() int {
	return e.queue.Flush()
}

// SetPushConnected records whether the push channel is delivering.
// Push-covered resources stop polling while it is.
func (e *Engine) SetPushConnected(connected bool) {
	e.mu.Lock()
	changed := e.push != connected
	e.push = connected
	e.mu.Unlock()
	if !changed {
		return
	}
	e.poller.SetPushActive(connected)
	e.logger.Info("push channel state changed", "connected", connected)
}

// PushConnected reports the last state given to SetPushConnected.
func (e *Engine) PushConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.push
}

// Subscribe registers a listener for snapshot changes.
func (e *Engine) Subscribe(l cache.Listener) func() {
	return e.store.Subscribe(l)
}

// Feed returns the cached snapshot of the feed q reads, or nil.
func (e *Engine) Feed(q domain.FeedQuery) *domain.Feed {
	return e.store.Feed(q.Key())
}

// Post returns the cached single-post snapshot, or nil.
func (e *Engine) Post(id string) *domain.Post {
	return e.store.Post(id)
}

// Comments returns the cached comment tree of a post, or nil.
func (e *Engine) Comments(postID string) *domain.CommentTree {
	return e.store.Comments(postID)
}

// Wallet returns the cached wallet, or nil.
func (e *Engine) Wallet() *domain.Wallet {
	return e.store.Wallet()
}

// Snapshot returns the snapshot stored under a cache key.
func (e *Engine) Snapshot(key string) any {
	return e.store.Snapshot(key)
}

// LoadFeed fetches one page of a feed and merges it into the cache. On
// failure the cached feed is returned along with the error.
func (e *Engine) LoadFeed(ctx context.Context, q domain.FeedQuery) (*domain.Feed, error) {
	posts, err := e.backend.ListFeed(ctx, q)
	if err != nil {
		e.metrics.CacheRead("feed", "stale")
		return e.Feed(q), fmt.Errorf("load feed %s: %w", q, err)
	}
	e.commit(domain.KindFeedRefreshed, q.Key(), domain.FeedPage{Query: q, Posts: posts})
	return e.Feed(q), nil
}

// LoadPost fetches a post into its detail snapshot.
func (e *Engine) LoadPost(ctx context.Context, id string) (*domain.Post, error) {
	p, err := e.backend.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.store.RemovePostEverywhere(id)
			return nil, fmt.Errorf("load post %s: %w", id, err)
		}
		return e.Post(id), fmt.Errorf("load post %s: %w", id, err)
	}
	e.store.PutPost(p.ID, func(cur *domain.Post) *domain.Post { return cache.MergePost(cur, p) })
	return e.Post(p.ID), nil
}

// LoadComments fetches a post's comments and replaces its cached tree.
func (e *Engine) LoadComments(ctx context.Context, postID string) (*domain.CommentTree, error) {
	comments, err := e.backend.ListComments(ctx, postID)
	if err != nil {
		return e.Comments(postID), fmt.Errorf("load comments of %s: %w", postID, err)
	}
	tree := cache.BuildCommentTree(postID, comments)
	e.scroll.Preserve(func() {
		e.store.PutComments(postID, func(*domain.CommentTree) *domain.CommentTree { return tree })
	})
	return e.Comments(postID), nil
}

// WatchFeed starts the new-post probe of a feed. The returned function drops
// the interest; calling it more than once is safe.
func (e *Engine) WatchFeed(q domain.FeedQuery) (func(), error) {
	probe := q
	probe.Offset = 0
	key := FeedProbeResource(q)
	err := e.poller.Register(polling.Resource{
		Key:         key,
		Mode:        polling.Live,
		Interval:    e.opts.FeedProbeInterval,
		PushCovered: true,
		Fetch: func(ctx context.Context) (any, error) {
			posts, err := e.backend.ListFeed(ctx, probe)
			if err != nil {
				return nil, err
			}
			return domain.FeedPage{Query: probe, Posts: posts}, nil
		},
		Deliver: func(v any) {
			if page, ok := v.(domain.FeedPage); ok {
				e.commit(domain.KindFeedRefreshed, probe.Key(), page)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("watch feed %s: %w", q.Key(), err)
	}
	if err := e.poller.Start(key); err != nil {
		return nil, fmt.Errorf("watch feed %s: %w", q.Key(), err)
	}
	var once sync.Once
	return func() { once.Do(func() { e.poller.Stop(key) }) }, nil
}

// StartPolling registers interest in a polled resource.
func (e *Engine) StartPolling(key string) error {
	return e.poller.Start(key)
}

// StopPolling drops one unit of interest in a polled resource.
func (e *Engine) StopPolling(key string) {
	e.poller.Stop(key)
}

// ResumePolling clears a pause caused by repeated failures.
func (e *Engine) ResumePolling(key string) error {
	return e.poller.Resume(key)
}

// Balance returns the wallet, fetching it when no fresh balance is cached.
// A failed fetch falls back to the cached wallet.
func (e *Engine) Balance(ctx context.Context) (domain.Wallet, error) {
	res, err := e.poller.Get(ctx, WalletResource)
	if err != nil {
		if w := e.store.Wallet(); w != nil {
			return *w, nil
		}
		return domain.Wallet{}, fmt.Errorf("balance: %w", err)
	}
	// A pushed balance may still sit in the queue.
	if u, ok := res.Value.(domain.WalletUpdate); ok {
		if cur := e.store.Wallet(); cur == nil || cur.UpdatedAt.Before(u.At) {
			e.commit(domain.KindBalanceUpdated, cache.WalletKey, u)
		}
	}
	if w := e.store.Wallet(); w != nil {
		return *w, nil
	}
	return domain.Wallet{}, fmt.Errorf("balance: %w", polling.ErrUnavailable)
}

// RefreshBalance fetches the balance regardless of the cached one.
func (e *Engine) RefreshBalance(ctx context.Context) (domain.Wallet, error) {
	e.poller.Invalidate(WalletResource)
	return e.Balance(ctx)
}

// BoostInfo returns the daily boost allowance.
func (e *Engine) BoostInfo(ctx context.Context) (domain.BoostInfo, error) {
	res, err := e.poller.Get(ctx, BoostInfoResource)
	if err != nil {
		return domain.BoostInfo{}, fmt.Errorf("boost info: %w", err)
	}
	info, _ := res.Value.(domain.BoostInfo)
	return info, nil
}

// Packages returns the coin packages on sale.
func (e *Engine) Packages(ctx context.Context) ([]domain.Package, error) {
	return e.catalog.Packages(ctx)
}

// Items returns the items purchasable with coins.
func (e *Engine) Items(ctx context.Context) ([]domain.Item, error) {
	return e.catalog.Items(ctx)
}

// AddOptimisticPost shows a locally created post before the server confirms
// it. The cached post, carrying its temporary identity, is returned.
func (e *Engine) AddOptimisticPost(p domain.Post) domain.Post {
	return e.applier.AddPost(p)
}

// ReconcilePost swaps a temporary post for the server's copy.
func (e *Engine) ReconcilePost(tempID string, confirmed domain.Post) bool {
	return e.applier.ReconcilePost(tempID, confirmed)
}

// DiscardOptimistic removes a temporary post whose creation failed.
func (e *Engine) DiscardOptimistic(tempID string) bool {
	return e.applier.DiscardPost(tempID)
}

// AddOptimisticComment shows a locally created comment before the server
// confirms it.
func (e *Engine) AddOptimisticComment(c domain.Comment) (domain.Comment, bool) {
	return e.applier.AddComment(c)
}

// ReconcileComment swaps a temporary comment for the server's copy.
func (e *Engine) ReconcileComment(tempID string, confirmed domain.Comment) bool {
	return e.applier.ReconcileComment(tempID, confirmed)
}

// DiscardOptimisticComment removes a temporary comment whose creation
// failed.
func (e *Engine) DiscardOptimisticComment(postID, tempID string) bool {
	return e.applier.DiscardComment(postID, tempID)
}

// ApplyOptimisticVote records the session user's vote before the server
// confirms it.
func (e *Engine) ApplyOptimisticVote(u domain.VoteUpdate) bool {
	return e.applier.ApplyVote(u)
}

// ApplyWalletDelta shows a local balance change until the next
// authoritative balance.
func (e *Engine) ApplyWalletDelta(delta int64) bool {
	return e.applier.ApplyWalletDelta(delta)
}

// SetScrollPreservation turns scroll preservation on or off.
func (e *Engine) SetScrollPreservation(enabled bool) {
	e.scroll.SetEnabled(enabled)
}

// Stats returns the counters of all components.
func (e *Engine) Stats() Stats {
	return Stats{
		Queue:   e.queue.Stats(),
		Ingest:  e.ingestor.Stats(),
		Polling: e.poller.Statuses(),
		Keys:    e.store.Keys(),
		Push:    e.PushConnected(),
	}
}

// Run logs stats at the given interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := e.Stats()
			e.logger.Info("sync stats",
				"updates_accepted", s.Queue.Accepted,
				"updates_skipped", s.Queue.Skipped,
				"updates_coalesced", s.Queue.Coalesced,
				"batches", s.Queue.Batches,
				"events_unknown", s.Ingest.Unknown,
				"events_malformed", s.Ingest.Malformed,
				"cached_keys", len(s.Keys),
				"push_connected", s.Push,
			)
		}
	}
}

// Close flushes pending updates and stops all timers.
func (e *Engine) Close() {
	n := e.queue.Close()
	e.poller.Close()
	e.sched.Stop()
	e.logger.Info("engine closed", "flushed", n)
}

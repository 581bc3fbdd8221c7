// Package polling is the fallback path for resources that push updates do
// not cover, or have not delivered yet.
//
// Each registered resource has at most one polling task. Polling only runs
// while at least one consumer holds interest in the resource, while the
// resource is not paused, and, for push-covered resources, while the push
// channel is down. Fetch-once resources stop polling as soon as a value is
// obtained by any path.
package polling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/scheduler"
	"github.com/blackmichael/forum-sync/internal/ttlcache"
)

var (
	// ErrUnknownResource is returned for keys that were never registered.
	ErrUnknownResource = errors.New("unknown polled resource")

	// ErrUnavailable is returned when a fetch failed and no earlier value
	// is cached. A retry has been scheduled.
	ErrUnavailable = errors.New("resource unavailable")

	// ErrPaused is reported in Status once a resource exhausted its retries.
	ErrPaused = errors.New("polling paused")
)

// Mode selects whether polling continues after a value is obtained.
type Mode int

const (
	// FetchOnce resources poll until the first value arrives.
	FetchOnce Mode = iota
	// Live resources poll at their interval for as long as there is interest.
	Live
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "fetch-once"
}

// Resource describes one polled value.
type Resource struct {
	Key  string
	Mode Mode

	// Interval between live polls. Zero uses the supervisor's interval.
	Interval time.Duration

	// TTL of fetched values. Zero uses the supervisor's default.
	TTL time.Duration

	// PushCovered resources are not polled while push is active.
	PushCovered bool

	Fetch func(ctx context.Context) (any, error)

	// Deliver, when set, receives every successfully fetched value. It runs
	// outside the supervisor's lock.
	Deliver func(v any)
}

// Options tunes retries and cache lifetimes. Zero fields take the values
// of DefaultOptions.
type Options struct {
	Interval          time.Duration
	BackoffFactor     float64
	MaxRetries        int
	RateLimitCooldown time.Duration
	FetchTimeout      time.Duration
	DefaultTTL        time.Duration

	Metrics metrics.Recorder
}

// DefaultOptions returns the polling behavior used when nothing is
// configured.
func DefaultOptions() Options {
	return Options{
		Interval:          30 * time.Second,
		BackoffFactor:     2,
		MaxRetries:        5,
		RateLimitCooldown: 2 * time.Minute,
		FetchTimeout:      10 * time.Second,
		DefaultTTL:        5 * time.Minute,
	}
}

// Result is what Get returns.
type Result struct {
	Value     any
	FetchedAt time.Time

	// Cached is set when the value came from the cache rather than a fetch
	// made by this call.
	Cached bool

	// Stale is set when the fetch failed and an older value was returned.
	Stale bool
}

// Status describes a resource for observers.
type Status struct {
	Key       string    `json:"key"`
	Mode      string    `json:"mode"`
	Refs      int       `json:"refs"`
	Polling   bool      `json:"polling"`
	Paused    bool      `json:"paused"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
	Obtained  bool      `json:"obtained"`
}

type state struct {
	res      Resource
	refs     int
	failures int
	paused   bool
	obtained bool
	retry    bool
	lastErr  error
}

// Supervisor owns every polled resource of one engine session.
type Supervisor struct {
	opts   Options
	sched  *scheduler.Scheduler
	cache  *ttlcache.Cache[string, any]
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	resources  map[string]*state
	pushActive bool
	closed     bool
}

// New creates a supervisor whose timers run on sched.
func New(sched *scheduler.Scheduler, opts Options, logger *slog.Logger) *Supervisor {
	defaults := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = defaults.BackoffFactor
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = defaults.RateLimitCooldown
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaults.FetchTimeout
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaults.DefaultTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:      opts,
		sched:     sched,
		cache:     ttlcache.New[string, any](opts.DefaultTTL, sched.Now),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		resources: make(map[string]*state),
	}
}

// Register adds a resource. Registering a key again replaces its
// definition and keeps its interest count and cached value.
func (s *Supervisor) Register(res Resource) error {
	if res.Key == "" {
		return errors.New("register resource: key is required")
	}
	if res.Fetch == nil {
		return fmt.Errorf("register resource %s: fetch is required", res.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.resources[res.Key]; ok {
		st.res = res
		return nil
	}
	s.resources[res.Key] = &state{res: res}
	return nil
}

// Registered reports whether key has been registered.
func (s *Supervisor) Registered(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.resources[key]
	return ok
}

// Get returns the value of a resource. A value within its TTL is returned
// without a fetch. Otherwise the resource is fetched; if that fails the last
// known value is returned marked stale, or, when there is none, a retry is
// scheduled and ErrUnavailable returned.
func (s *Supervisor) Get(ctx context.Context, key string) (Result, error) {
	s.mu.Lock()
	st, ok := s.resources[key]
	if !ok {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownResource, key)
	}
	res := st.res
	s.mu.Unlock()

	if e, ok := s.cache.Peek(key); ok && e.Fresh(s.sched.Now()) {
		s.opts.Metrics.CacheRead(key, "hit")
		return Result{Value: e.Value, FetchedAt: e.FetchedAt, Cached: true}, nil
	}

	v, err := res.Fetch(ctx)
	if err == nil {
		e := s.succeed(key, v)
		s.opts.Metrics.CacheRead(key, "miss")
		return Result{Value: v, FetchedAt: e.FetchedAt}, nil
	}

	if e, ok := s.cache.Peek(key); ok {
		s.fail(key, err, false)
		s.opts.Metrics.CacheRead(key, "stale")
		s.logger.Warn("serving stale value", "resource", key, "fetched_at", e.FetchedAt, "error", err)
		return Result{Value: e.Value, FetchedAt: e.FetchedAt, Cached: true, Stale: true}, nil
	}

	s.fail(key, err, true)
	s.opts.Metrics.CacheRead(key, "unavailable")
	return Result{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, key, err)
}

// Peek returns the cached value of a resource without fetching.
func (s *Supervisor) Peek(key string) (Result, bool) {
	e, ok := s.cache.Peek(key)
	if !ok {
		return Result{}, false
	}
	return Result{
		Value:     e.Value,
		FetchedAt: e.FetchedAt,
		Cached:    true,
		Stale:     !e.Fresh(s.sched.Now()),
	}, true
}

// Invalidate marks the cached value stale so the next Get fetches.
func (s *Supervisor) Invalidate(key string) {
	s.cache.Invalidate(key)
}

// Start registers interest in a resource and starts its polling task if
// nothing prevents it. Interest is counted: every Start needs a matching
// Stop.
func (s *Supervisor) Start(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.resources[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, key)
	}
	st.refs++
	s.logger.Debug("polling interest added", "resource", key, "refs", st.refs)
	s.reconcile(key, st)
	return nil
}

// Stop drops one unit of interest. The polling task is cancelled when
// nobody is interested anymore. Extra calls are ignored.
func (s *Supervisor) Stop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.resources[key]
	if !ok || st.refs == 0 {
		return
	}
	st.refs--
	s.logger.Debug("polling interest dropped", "resource", key, "refs", st.refs)
	s.reconcile(key, st)
}

// Resume clears a pause caused by exhausted retries.
func (s *Supervisor) Resume(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.resources[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, key)
	}
	st.paused = false
	st.failures = 0
	st.lastErr = nil
	s.reconcile(key, st)
	return nil
}

// SetPushActive tells the supervisor whether the push channel is
// delivering. Push-covered resources stop polling while it is.
func (s *Supervisor) SetPushActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushActive == active {
		return
	}
	s.pushActive = active
	for key, st := range s.resources {
		if st.res.PushCovered {
			s.reconcile(key, st)
		}
	}
}

// Observe records a value that arrived by another path, such as a push
// event. Fetch-once resources stop polling.
func (s *Supervisor) Observe(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.resources[key]
	if !ok {
		return
	}
	s.cache.SetTTL(key, v, st.res.TTL)
	st.obtained = true
	st.failures = 0
	st.lastErr = nil
	st.retry = false
	s.reconcile(key, st)
}

// Status describes one resource.
func (s *Supervisor) Status(key string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.resources[key]
	if !ok {
		return Status{}, false
	}
	return s.status(key, st), true
}

// Statuses describes every resource, sorted by key.
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.resources))
	for key, st := range s.resources {
		out = append(out, s.status(key, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close cancels every polling task and any fetch in flight.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	for key := range s.resources {
		s.sched.Cancel(taskKey(key))
	}
}

// Backoff returns the retry delay after k consecutive failures:
// interval * factor^k.
func Backoff(interval time.Duration, factor float64, k int) time.Duration {
	if k <= 0 {
		return interval
	}
	d := float64(interval) * math.Pow(factor, float64(k))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func taskKey(key string) string {
	return "poll:" + key
}

func (s *Supervisor) interval(st *state) time.Duration {
	if st.res.Interval > 0 {
		return st.res.Interval
	}
	return s.opts.Interval
}

// eligible reports whether a polling task may exist for st; s.mu is held.
func (s *Supervisor) eligible(st *state) bool {
	switch {
	case s.closed, st.paused, st.refs == 0:
		return false
	case st.res.PushCovered && s.pushActive:
		return false
	case st.res.Mode == FetchOnce && st.obtained:
		return false
	}
	return true
}

// reconcile starts or cancels the polling task of st to match eligibility;
// s.mu is held.
func (s *Supervisor) reconcile(key string, st *state) {
	tk := taskKey(key)
	_, pending := s.sched.Pending(tk)
	if !s.eligible(st) {
		if pending && !st.retry {
			s.sched.Cancel(tk)
		}
		return
	}
	if pending {
		return
	}
	delay := time.Duration(0)
	if e, ok := s.cache.Peek(key); ok && e.Fresh(s.sched.Now()) {
		delay = s.interval(st)
	}
	s.sched.Schedule(tk, delay, func() { s.tick(key) })
}

func (s *Supervisor) tick(key string) {
	s.mu.Lock()
	st, ok := s.resources[key]
	if !ok || s.closed || (!s.eligible(st) && !st.retry) {
		s.mu.Unlock()
		return
	}
	fetch := st.res.Fetch
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)
	v, err := fetch(ctx)
	cancel()

	if err != nil {
		s.fail(key, err, false)
		return
	}
	s.succeed(key, v)
}

func (s *Supervisor) succeed(key string, v any) ttlcache.Entry[any] {
	s.mu.Lock()
	st := s.resources[key]
	e := s.cache.SetTTL(key, v, st.res.TTL)
	st.obtained = true
	st.failures = 0
	st.lastErr = nil
	st.paused = false
	st.retry = false
	deliver := st.res.Deliver

	tk := taskKey(key)
	s.sched.Cancel(tk)
	if s.eligible(st) {
		s.sched.Schedule(tk, s.interval(st), func() { s.tick(key) })
	}
	s.mu.Unlock()

	s.opts.Metrics.PollResult(key, "ok")
	if deliver != nil {
		deliver(v)
	}
	return e
}

// fail records a failed fetch and schedules the next attempt. retry asks
// for an attempt even when nobody is polling the resource.
func (s *Supervisor) fail(key string, err error, retry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.resources[key]
	st.failures++
	st.lastErr = err
	if retry {
		st.retry = true
	}

	tk := taskKey(key)
	if st.failures > s.opts.MaxRetries {
		st.paused = true
		st.retry = false
		s.sched.Cancel(tk)
		s.opts.Metrics.PollResult(key, "paused")
		s.logger.Warn("polling paused after repeated failures", "resource", key, "failures", st.failures, "error", err)
		return
	}

	var delay time.Duration
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		delay = max(s.opts.RateLimitCooldown, rl.RetryAfter)
		s.opts.Metrics.PollResult(key, "rate_limited")
	case errors.Is(err, domain.ErrRateLimited):
		delay = s.opts.RateLimitCooldown
		s.opts.Metrics.PollResult(key, "rate_limited")
	default:
		delay = Backoff(s.interval(st), s.opts.BackoffFactor, st.failures)
		s.opts.Metrics.PollResult(key, "error")
	}

	if !s.eligible(st) && !st.retry {
		return
	}
	s.sched.Schedule(tk, delay, func() { s.tick(key) })
	s.logger.Info("fetch failed, retry scheduled", "resource", key, "failures", st.failures, "delay", delay, "error", err)
}

func (s *Supervisor) status(key string, st *state) Status {
	_, polling := s.sched.Pending(taskKey(key))
	out := Status{
		Key:      key,
		Mode:     st.res.Mode.String(),
		Refs:     st.refs,
		Polling:  polling,
		Paused:   st.paused,
		Failures: st.failures,
		Obtained: st.obtained,
	}
	if st.paused {
		out.LastError = ErrPaused.Error()
	}
	if st.lastErr != nil {
		if out.LastError != "" {
			out.LastError += ": "
		}
		out.LastError += st.lastErr.Error()
	}
	if e, ok := s.cache.Peek(key); ok {
		out.FetchedAt = e.FetchedAt
		out.Stale = !e.Fresh(s.sched.Now())
	}
	return out
}

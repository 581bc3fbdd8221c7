package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/scheduler"
)

const flushTask = "queue:flush"

// ApplyFunc receives one flushed batch in insertion order, holding at most
// one record per coalescing key. It must not enqueue into the same queue.
type ApplyFunc func(batch []domain.Update)

// Options tunes batching.
type Options struct {
	// Throttle is the minimum gap between accepted enqueues. Zero disables
	// throttling.
	Throttle time.Duration

	// FlushDelay is how long the first record of a batch may wait.
	FlushDelay time.Duration

	// MaxBatch flushes immediately once this many distinct keys are queued.
	// Zero means no size limit.
	MaxBatch int

	Metrics metrics.Recorder
}

// DefaultOptions returns the batching used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Throttle:   16 * time.Millisecond,
		FlushDelay: 100 * time.Millisecond,
		MaxBatch:   50,
	}
}

// Stats counts what happened to enqueued records.
type Stats struct {
	Total     int64 `json:"total"`
	Accepted  int64 `json:"accepted"`
	Skipped   int64 `json:"skipped"`
	Coalesced int64 `json:"coalesced"`
	Flushed   int64 `json:"flushed"`
	Batches   int64 `json:"batches"`
	Pending   int   `json:"pending"`
}

// Queue is the update buffer between ingestion and the cache.
type Queue struct {
	opts   Options
	sched  *scheduler.Scheduler
	apply  ApplyFunc
	logger *slog.Logger

	mu           sync.Mutex
	order        []domain.Update
	index        map[string]int
	lastAccepted time.Time
	accepted     bool
	stats        Stats
	closed       bool

	// flushMu keeps batches from being applied concurrently.
	flushMu sync.Mutex
}

// New creates a queue that flushes into apply.
func New(sched *scheduler.Scheduler, opts Options, apply ApplyFunc, logger *slog.Logger) *Queue {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Queue{
		opts:   opts,
		sched:  sched,
		apply:  apply,
		logger: logger,
		index:  make(map[string]int),
	}
}

// Enqueue offers an update record. It reports whether the record was
// accepted; throttled records and records offered after Close are not.
func (q *Queue) Enqueue(kind domain.UpdateKind, targetKey string, payload any) bool {
	now := q.sched.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.stats.Total++
	if q.opts.Throttle > 0 && q.accepted && now.Sub(q.lastAccepted) < q.opts.Throttle {
		q.stats.Skipped++
		q.mu.Unlock()
		q.opts.Metrics.UpdateSkipped()
		q.logger.Debug("update throttled", "kind", kind, "target", targetKey)
		return false
	}
	q.accepted = true
	q.lastAccepted = now
	q.stats.Accepted++

	u := domain.Update{Kind: kind, TargetKey: targetKey, Payload: payload, Timestamp: now}
	key := u.CoalesceKey()
	i, coalesced := q.index[key]
	if coalesced {
		q.order[i] = u
		q.stats.Coalesced++
	} else {
		q.index[key] = len(q.order)
		q.order = append(q.order, u)
	}
	first := len(q.order) == 1 && !coalesced
	full := q.opts.MaxBatch > 0 && len(q.order) >= q.opts.MaxBatch
	q.mu.Unlock()

	q.opts.Metrics.UpdateAccepted()
	if coalesced {
		q.opts.Metrics.UpdateCoalesced()
	}

	switch {
	case full:
		q.Flush()
	case first:
		q.sched.Schedule(flushTask, q.opts.FlushDelay, func() { q.Flush() })
	}
	return true
}

// Flush applies everything queued so far and returns how many records were
// applied. Records enqueued while a batch is being applied go to the next
// batch.
func (q *Queue) Flush() int {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	batch := q.order
	q.order = nil
	q.index = make(map[string]int)
	q.sched.Cancel(flushTask)
	if len(batch) > 0 {
		q.stats.Flushed += int64(len(batch))
		q.stats.Batches++
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	q.apply(batch)
	q.opts.Metrics.Flushed(len(batch))
	q.logger.Debug("flushed update batch", "size", len(batch))
	return len(batch)
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Stats returns a copy of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.order)
	return s
}

// Close flushes what is queued and rejects further records. Calling it
// again does nothing.
func (q *Queue) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	q.mu.Unlock()
	return q.Flush()
}

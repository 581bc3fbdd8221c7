package scheduler

import (
	"sort"
	"sync"
	"time"
)

type task struct {
	gen   uint64
	due   time.Time
	timer Timer
}

// Scheduler owns every timer of one engine session.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	tasks   map[string]*task
	gen     uint64
	stopped bool
}

// New returns a scheduler driven by clock. A nil clock means SystemClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		clock: clock,
		tasks: make(map[string]*task),
	}
}

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Clock returns the clock the scheduler runs on.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Schedule runs fn after d under key, replacing any callback already
// pending for key. It returns false once the scheduler is stopped.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) bool {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := &task{gen: gen, due: s.clock.Now().Add(d)}
	s.tasks[key] = t
	t.timer = s.clock.AfterFunc(d, func() { s.fire(key, gen, fn) })
	return true
}

// fire runs fn unless the task was cancelled or replaced after its timer
// was armed.
func (s *Scheduler) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok || t.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()

	fn()
}

// Cancel drops the pending callback for key. It is safe to call for keys
// that have nothing pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports when the callback for key is due.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return time.Time{}, false
	}
	return t.due, true
}

// Len returns the number of pending callbacks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Keys returns the keys with a pending callback, sorted.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stop cancels every pending callback and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

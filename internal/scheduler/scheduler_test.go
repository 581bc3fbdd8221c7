package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/forum-sync/internal/scheduler"
	"github.com/blackmichael/forum-sync/internal/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*scheduler.Scheduler, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(epoch)
	s := scheduler.New(clock)
	t.Cleanup(s.Stop)
	return s, clock
}

func TestSchedule_Fires(t *testing.T) {
	s, clock := setup(t)
	fired := 0

	require.True(t, s.Schedule("a", time.Second, func() { fired++ }))
	due, ok := s.Pending("a")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Second), due)

	clock.Advance(time.Second)

	assert.Equal(t, 1, fired)
	assert.Zero(t, s.Len())
}

func TestSchedule_ReplacesPendingTask(t *testing.T) {
	s, clock := setup(t)
	var fired []string

	s.Schedule("a", time.Second, func() { fired = append(fired, "first") })
	s.Schedule("a", 2*time.Second, func() { fired = append(fired, "second") })
	assert.Equal(t, 1, s.Len())

	clock.Advance(5 * time.Second)

	assert.Equal(t, []string{"second"}, fired)
	assert.Zero(t, clock.PendingTimers(), "replaced timer must not leak")
}

func TestCancel_IsIdempotent(t *testing.T) {
	s, clock := setup(t)
	fired := false
	s.Schedule("a", time.Second, func() { fired = true })

	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.False(t, s.Cancel("never"))
	clock.Advance(time.Minute)

	assert.False(t, fired)
}

func TestSchedule_CallbackMayReschedule(t *testing.T) {
	s, clock := setup(t)
	runs := 0
	var tick func()
	tick = func() {
		runs++
		s.Schedule("poll", time.Second, tick)
	}
	s.Schedule("poll", time.Second, tick)

	clock.Advance(3 * time.Second)

	assert.Equal(t, 3, runs)
	assert.Equal(t, []string{"poll"}, s.Keys())
}

func TestStop_RejectsNewTasks(t *testing.T) {
	s, clock := setup(t)
	s.Schedule("a", time.Second, func() {})
	s.Schedule("b", time.Second, func() {})

	s.Stop()

	assert.Zero(t, s.Len())
	assert.Zero(t, clock.PendingTimers())
	assert.False(t, s.Schedule("c", time.Second, func() {}))
}

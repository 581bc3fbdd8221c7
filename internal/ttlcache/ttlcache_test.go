package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ now time.Time }

func (m *manualClock) Now() time.Time { return m.now }

func TestCache_FreshWithinTTL(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	c := New[string, int](300*time.Second, clock.Now)
	c.Set("wallet", 500)

	clock.now = clock.now.Add(60 * time.Second)
	v, ok := c.Get("wallet")
	require.True(t, ok)
	assert.Equal(t, 500, v)

	clock.now = clock.now.Add(340 * time.Second)
	_, ok = c.Get("wallet")
	assert.False(t, ok)

	e, ok := c.Peek("wallet")
	require.True(t, ok, "stale values stay available")
	assert.Equal(t, 500, e.Value)
	assert.False(t, e.Fresh(clock.now))
}

func TestCache_SetTTLOverridesDefault(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	c := New[string, string](time.Minute, clock.Now)
	c.SetTTL("short", "x", time.Second)
	c.SetTTL("default", "y", 0)

	clock.now = clock.now.Add(2 * time.Second)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("default")
	assert.True(t, ok)
}

func TestCache_InvalidateKeepsValue(t *testing.T) {
	c := New[string, int](time.Hour, nil)
	c.Set("k", 1)

	c.Invalidate("k")
	c.Invalidate("missing")

	_, ok := c.Get("k")
	assert.False(t, ok)
	e, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)

	c.Delete("k")
	assert.Zero(t, c.Len())
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector("forumsync")

	c.UpdateAccepted()
	c.UpdateAccepted()
	c.UpdateSkipped()
	c.Flushed(2)
	c.Applied("post-created", true)
	c.PollResult("wallet", "ok")
	c.CacheRead("packages", "hit")
	c.PushEvent("accepted")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.updates.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.updates.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.flushes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.applied.WithLabelValues("post-created", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.polls.WithLabelValues("wallet", "ok")))
}

func TestCollector_PrivateRegistries(t *testing.T) {
	a := NewCollector("forumsync")
	b := NewCollector("forumsync")
	a.UpdateSkipped()

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "forumsync_updates_total" {
			t.Fatalf("untouched collector exported %s", f.GetName())
		}
	}
}

func TestNop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.Flushed(3)
	r.Applied("x", false)
}

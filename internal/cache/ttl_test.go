package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func TestTTLExpiresEntries(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Unix(0, 0)}
	c := New[string](time.Minute, clock)

	c.Set("a", "alpha")
	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "alpha", got)

	clock.now = clock.now.Add(59 * time.Second)
	_, ok = c.Get("a")
	require.True(t, ok)

	clock.now = clock.now.Add(time.Second)
	_, ok = c.Get("a")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestTTLPurge(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Unix(0, 0)}
	c := New[int](time.Minute, clock)
	c.Set("old", 1)
	clock.now = clock.now.Add(30 * time.Second)
	c.Set("new", 2)
	clock.now = clock.now.Add(40 * time.Second)

	require.Equal(t, 1, c.Purge())
	require.Equal(t, 1, c.Len())
	v, ok := c.Get("new")
	require.True(t, ok)
	require.Equal(t, 2, v)

	c.Delete("new")
	require.Zero(t, c.Len())
}

func TestTTLDisabled(t *testing.T) {
	t.Parallel()

	c := New[string](0, nil)
	require.False(t, c.Enabled())
	c.Set("a", "alpha")
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Zero(t, c.Len())

	var nilCache *TTL[string]
	require.False(t, nilCache.Enabled())
	_, ok = nilCache.Get("a")
	require.False(t, ok)
	require.Zero(t, nilCache.Purge())
}

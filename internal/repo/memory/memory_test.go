package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_SetNXAndExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)}
	s := NewWithClock(c.now)

	created, err := s.SetNX(ctx, "dm_a/b_occurred", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SetNX(ctx, "dm_a/b_occurred", time.Hour)
	require.NoError(t, err)
	assert.False(t, created, "second SetNX must not create a live key")

	ttl, ok := s.TTL("dm_a/b_occurred")
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	c.advance(time.Hour)
	live, err := s.Exists(ctx, "dm_a/b_occurred")
	require.NoError(t, err)
	assert.False(t, live, "key should have expired")

	created, err = s.SetNX(ctx, "dm_a/b_occurred", time.Hour)
	require.NoError(t, err)
	assert.True(t, created, "SetNX recreates an expired key")
}

func TestMemoryStore_DeleteReportsLiveness(t *testing.T) {
	ctx := context.Background()
	s := New()

	removed, err := s.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.Set(ctx, "k", 0))
	removed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	live, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, live, "key still exists after delete")
}

func TestMemoryStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1700000000, 0)}
	s := NewWithClock(c.now)

	require.NoError(t, s.Set(ctx, "dm_a/b_1", time.Minute))
	require.NoError(t, s.Set(ctx, "dm_a/b_2", 2*time.Minute))
	require.NoError(t, s.Set(ctx, "dm_x/y_1", time.Minute))

	keys, err := s.Keys(ctx, "dm_a/b_")
	require.NoError(t, err)
	assert.Equal(t, []string{"dm_a/b_1", "dm_a/b_2"}, keys)

	c.advance(90 * time.Second)
	keys, err = s.Keys(ctx, "dm_a/b_")
	require.NoError(t, err)
	assert.Equal(t, []string{"dm_a/b_2"}, keys, "expired key still listed")
}

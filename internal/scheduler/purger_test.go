package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/repo/memory"
)

// --- fakes ---

type fakeStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeStore) Purge(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, f.err
}

func (f *fakeStore) n() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- tests ---

func TestPurger_RunsImmediatelyAndOnTick(t *testing.T) {
	store := &fakeStore{}
	p := NewPurger(zap.NewNop(), store, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()
	<-done

	assert.GreaterOrEqual(t, store.n(), 2, "immediate pass plus ticks")
}

func TestPurger_Disabled(t *testing.T) {
	store := &fakeStore{}
	p := NewPurger(zap.NewNop(), store, 0)
	p.Run(context.Background()) // returns immediately
	assert.Zero(t, store.n(), "disabled purger must not run")
}

func TestPurger_ErrorDoesNotStopLoop(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	p := NewPurger(zap.NewNop(), store, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.GreaterOrEqual(t, store.n(), 2, "loop stopped after error")
}

func TestPurger_MemoryLedger(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	l := memory.NewWithClock(clock)
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, "dm_web1/disk_1700000000", time.Second))
	require.NoError(t, l.Set(ctx, "dm_web1/disk-email", time.Hour))

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	p := NewPurger(zap.NewNop(), l, time.Minute)
	p.runOnce(ctx)

	keys, err := l.Keys(ctx, "dm_web1/disk")
	require.NoError(t, err)
	assert.Equal(t, []string{"dm_web1/disk-email"}, keys)
}

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/delayedmailer/internal/repo"
)

// Store is an in-process ledger. Expired entries are dropped lazily.
type Store struct {
	mu      sync.Mutex
	entries map[string]time.Time // zero time = no expiry
	now     func() time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock lets tests move time forward past TTLs.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

func (m *Store) live(key string) bool {
	exp, ok := m.entries[key]
	if !ok {
		return false
	}
	if !exp.IsZero() && !m.now().Before(exp) {
		delete(m.entries, key)
		return false
	}
	return true
}

func (m *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Store) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(key), nil
}

func (m *Store) Set(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.expiry(ttl)
	return nil
}

func (m *Store) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) {
		return false, nil
	}
	m.entries[key] = m.expiry(ttl)
	return true, nil
}

func (m *Store) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live(key) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) && m.live(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// TTL returns the remaining lifetime of key, or false if it is not live.
func (m *Store) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live(key) {
		return 0, false
	}
	exp := m.entries[key]
	if exp.IsZero() {
		return 0, true
	}
	return exp.Sub(m.now()), true
}

// Purge drops every expired entry and reports how many were removed.
func (m *Store) Purge(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.entries {
		if !m.live(k) {
			n++
		}
	}
	return n, nil
}

func (m *Store) Ping(context.Context) error { return nil }
func (m *Store) Close() error               { return nil }

var _ repo.Ledger = (*Store)(nil)

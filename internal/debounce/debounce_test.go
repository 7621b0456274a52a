package debounce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/repo"
	"github.com/hamed0406/delayedmailer/internal/repo/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Unix(1700000000, 0)} }

func event(client, check string, action domain.Action) domain.Event {
	return domain.Event{
		Client:      domain.Client{Name: client},
		Check:       domain.Check{Name: check, Output: "DISK CRITICAL", Issued: 1700000000},
		Action:      action,
		Occurrences: 1,
	}
}

func TestNew(t *testing.T) {
	l := memory.New()

	p, err := New(Options{SleepPeriod: time.Hour}, l)
	require.NoError(t, err)
	assert.Equal(t, NameQuietPeriod, p.Name())
	assert.Equal(t, time.Hour, p.Period())

	p, err = New(Options{Policy: NameThreshold, AlertThreshold: 3, OccurrenceExpiry: time.Minute}, l)
	require.NoError(t, err)
	assert.Equal(t, NameThreshold, p.Name())
	assert.Equal(t, time.Minute, p.Period())

	_, err = New(Options{Policy: "sometimes"}, l)
	assert.Error(t, err)
	_, err = New(Options{Policy: NameQuietPeriod}, l)
	assert.Error(t, err)
	_, err = New(Options{Policy: NameThreshold, AlertThreshold: 0, OccurrenceExpiry: time.Minute}, l)
	assert.Error(t, err)
	_, err = New(Options{Policy: NameThreshold, AlertThreshold: 2}, l)
	assert.Error(t, err)
}

func TestQuietPeriod_FirstAlertCreatesMarkerWithTTL(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &QuietPeriod{Ledger: l, SleepPeriod: time.Hour}

	out, err := p.Decide(context.Background(), event("web1", "disk_full", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
	assert.False(t, out.Resolution)

	ttl, ok := l.TTL("dm_web1/disk_full_occurred")
	require.True(t, ok, "marker must exist")
	assert.Equal(t, time.Hour, ttl)
}

func TestQuietPeriod_AlertWhileMarkerLiveIsSuppressed(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &QuietPeriod{Ledger: l, SleepPeriod: time.Hour}
	ctx := context.Background()

	_, err := p.Decide(ctx, event("web1", "disk_full", domain.ActionCreate))
	require.NoError(t, err)
	c.advance(10 * time.Second)

	out, err := p.Decide(ctx, event("web1", "disk_full", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)
	assert.Equal(t, "quiet_period", out.Reason)

	// Marker untouched: remaining TTL reflects the original write.
	ttl, ok := l.TTL("dm_web1/disk_full_occurred")
	require.True(t, ok)
	assert.Equal(t, time.Hour-10*time.Second, ttl)
}

func TestQuietPeriod_ResolveSendsOnceAndDeletesMarker(t *testing.T) {
	l := memory.New()
	p := &QuietPeriod{Ledger: l, SleepPeriod: time.Hour}
	ctx := context.Background()

	_, err := p.Decide(ctx, event("web1", "disk_full", domain.ActionCreate))
	require.NoError(t, err)

	out, err := p.Decide(ctx, event("web1", "disk_full", domain.ActionResolve))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
	assert.True(t, out.Resolution)

	ok, err := l.Exists(ctx, "dm_web1/disk_full_occurred")
	require.NoError(t, err)
	assert.False(t, ok)

	out, err = p.Decide(ctx, event("web1", "disk_full", domain.ActionResolve))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)
	assert.Equal(t, "nothing_to_resolve", out.Reason)
}

func TestQuietPeriod_NewEpisodeAfterResolve(t *testing.T) {
	l := memory.New()
	p := &QuietPeriod{Ledger: l, SleepPeriod: time.Hour}
	ctx := context.Background()

	decisions := []Decision{}
	for _, a := range []domain.Action{domain.ActionCreate, domain.ActionResolve, domain.ActionCreate} {
		out, err := p.Decide(ctx, event("web1", "disk_full", a))
		require.NoError(t, err)
		decisions = append(decisions, out.Decision)
	}
	assert.Equal(t, []Decision{SendEmail, SendEmail, SendEmail}, decisions)
}

func TestQuietPeriod_WebDiskFullScenario(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &QuietPeriod{Ledger: l, SleepPeriod: 3600 * time.Second}
	ctx := context.Background()

	out, err := p.Decide(ctx, event("web1", "disk_full", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
	ok, _ := l.Exists(ctx, "dm_web1/disk_full_occurred")
	assert.True(t, ok)

	c.advance(10 * time.Second)
	out, err = p.Decide(ctx, event("web1", "disk_full", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)

	c.advance(3990 * time.Second)
	out, err = p.Decide(ctx, event("web1", "disk_full", domain.ActionResolve))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision, "episode already closed by TTL")
}

func TestQuietPeriod_UnknownActionIsAlert(t *testing.T) {
	p := &QuietPeriod{Ledger: memory.New(), SleepPeriod: time.Hour}
	out, err := p.Decide(context.Background(), event("web1", "cpu", domain.Action("weird")))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
	assert.False(t, out.Resolution)
}

func TestThreshold_EscalatesOnNthAlert(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &Threshold{Ledger: l, Threshold: 3, Expiry: time.Hour, Now: c.now}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
		require.NoError(t, err)
		assert.Equal(t, Suppress, out.Decision)
		assert.Equal(t, "below_threshold", out.Reason)
		c.advance(time.Second)
	}

	out, err := p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
	ok, _ := l.Exists(ctx, "dm_web1/disk-email")
	assert.True(t, ok)

	for i := 0; i < 3; i++ {
		c.advance(time.Second)
		out, err = p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
		require.NoError(t, err)
		assert.Equal(t, Suppress, out.Decision)
		assert.Equal(t, "already_notified", out.Reason)
	}
}

func TestThreshold_WindowSlides(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &Threshold{Ledger: l, Threshold: 2, Expiry: time.Minute, Now: c.now}
	ctx := context.Background()

	out, err := p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)

	// First occurrence expired before the second one arrives.
	c.advance(2 * time.Minute)
	out, err = p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)

	c.advance(time.Second)
	out, err = p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
}

func TestThreshold_IgnoresNeighbouringChecks(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &Threshold{Ledger: l, Threshold: 2, Expiry: time.Hour, Now: c.now}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Decide(ctx, event("web1", "disk_full", domain.ActionCreate))
		require.NoError(t, err)
		c.advance(time.Second)
	}

	out, err := p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)
}

func TestThreshold_ResolveOnlyAfterNotification(t *testing.T) {
	c := newClock()
	l := memory.NewWithClock(c.now)
	p := &Threshold{Ledger: l, Threshold: 2, Expiry: time.Hour, Now: c.now}
	ctx := context.Background()

	_, err := p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	out, err := p.Decide(ctx, event("web1", "disk", domain.ActionResolve))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision, "no alert email was sent")

	c.advance(time.Second)
	out, err = p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
	require.NoError(t, err)
	require.Equal(t, SendEmail, out.Decision)

	out, err = p.Decide(ctx, event("web1", "disk", domain.ActionResolve))
	require.NoError(t, err)
	assert.Equal(t, SendEmail, out.Decision)
	assert.True(t, out.Resolution)

	out, err = p.Decide(ctx, event("web1", "disk", domain.ActionResolve))
	require.NoError(t, err)
	assert.Equal(t, Suppress, out.Decision)
}

type brokenLedger struct{ repo.Ledger }

var errDown = errors.New("ledger down")

func (brokenLedger) SetNX(context.Context, string, time.Duration) (bool, error) {
	return false, errDown
}
func (brokenLedger) Set(context.Context, string, time.Duration) error { return errDown }
func (brokenLedger) Delete(context.Context, string) (bool, error)     { return false, errDown }

func TestLedgerErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	policies := []Policy{
		&QuietPeriod{Ledger: brokenLedger{}, SleepPeriod: time.Hour},
		&Threshold{Ledger: brokenLedger{}, Threshold: 1, Expiry: time.Hour},
	}
	for _, p := range policies {
		_, err := p.Decide(ctx, event("web1", "disk", domain.ActionCreate))
		assert.ErrorIs(t, err, errDown, p.Name())
		_, err = p.Decide(ctx, event("web1", "disk", domain.ActionResolve))
		assert.ErrorIs(t, err, errDown, p.Name())
	}
}

package debounce

import (
	"context"
	"time"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/repo"
)

// Threshold escalates to email only once Threshold alerts have been seen
// within the Expiry window. Every alert leaves a timestamped marker that
// expires on its own, which makes the count a sliding window.
type Threshold struct {
	Ledger    repo.Ledger
	Threshold int
	Expiry    time.Duration
	Now       func() time.Time
}

func (p *Threshold) Name() string          { return NameThreshold }
func (p *Threshold) Period() time.Duration { return p.Expiry }

func (p *Threshold) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Threshold) Decide(ctx context.Context, ev domain.Event) (Outcome, error) {
	id := ev.Identity()
	if ev.Action.IsResolve() {
		return resolve(ctx, p.Ledger, repo.NotifiedKey(id))
	}

	if err := p.Ledger.Set(ctx, repo.OccurrenceKey(id, p.now()), p.Expiry); err != nil {
		return Outcome{}, err
	}

	keys, err := p.Ledger.Keys(ctx, repo.OccurrencePrefix(id))
	if err != nil {
		return Outcome{}, err
	}
	count := 0
	for _, k := range keys {
		if repo.IsOccurrenceKey(id, k) {
			count++
		}
	}
	if count < p.Threshold {
		return Outcome{Decision: Suppress, Reason: "below_threshold"}, nil
	}

	created, err := p.Ledger.SetNX(ctx, repo.NotifiedKey(id), p.Expiry)
	if err != nil {
		return Outcome{}, err
	}
	if !created {
		return Outcome{Decision: Suppress, Reason: "already_notified"}, nil
	}
	return Outcome{Decision: SendEmail, Reason: "threshold_reached"}, nil
}

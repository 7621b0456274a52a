package debounce

import (
	"context"
	"time"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/repo"
)

// QuietPeriod collapses a burst of alerts into one email per SleepPeriod.
type QuietPeriod struct {
	Ledger      repo.Ledger
	SleepPeriod time.Duration
}

func (q *QuietPeriod) Name() string          { return NameQuietPeriod }
func (q *QuietPeriod) Period() time.Duration { return q.SleepPeriod }

func (q *QuietPeriod) Decide(ctx context.Context, ev domain.Event) (Outcome, error) {
	key := repo.OccurredKey(ev.Identity())
	if ev.Action.IsResolve() {
		return resolve(ctx, q.Ledger, key)
	}

	// SetNX folds the exists check and the write into one step.
	created, err := q.Ledger.SetNX(ctx, key, q.SleepPeriod)
	if err != nil {
		return Outcome{}, err
	}
	if !created {
		return Outcome{Decision: Suppress, Reason: "quiet_period"}, nil
	}
	return Outcome{Decision: SendEmail, Reason: "first_alert"}, nil
}

// Package debounce decides whether an event produces an email, using the
// dedup ledger as the only state.
//
// Both policies guarantee at most one alert email per episode (first
// qualifying alert up to its resolution) and a resolution email only when
// the episode's alert email was sent.
package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/repo"
)

type Decision int

const (
	Suppress Decision = iota
	SendEmail
)

func (d Decision) String() string {
	if d == SendEmail {
		return "send"
	}
	return "suppress"
}

// Outcome is the result of one policy evaluation. Reason is a short
// snake_case tag suitable for logs and metrics.
type Outcome struct {
	Decision   Decision
	Reason     string
	Resolution bool
}

type Policy interface {
	Name() string
	Decide(ctx context.Context, ev domain.Event) (Outcome, error)
	// Period is the window rendered into the email body.
	Period() time.Duration
}

const (
	NameQuietPeriod = "quiet_period"
	NameThreshold   = "threshold"
)

type Options struct {
	Policy           string
	SleepPeriod      time.Duration
	AlertThreshold   int
	OccurrenceExpiry time.Duration
}

// New builds the configured policy on top of l.
func New(o Options, l repo.Ledger) (Policy, error) {
	switch o.Policy {
	case "", NameQuietPeriod:
		if o.SleepPeriod <= 0 {
			return nil, fmt.Errorf("sleep period must be >0, got %s", o.SleepPeriod)
		}
		return &QuietPeriod{Ledger: l, SleepPeriod: o.SleepPeriod}, nil
	case NameThreshold:
		if o.AlertThreshold < 1 {
			return nil, fmt.Errorf("alert threshold must be >=1, got %d", o.AlertThreshold)
		}
		if o.OccurrenceExpiry <= 0 {
			return nil, fmt.Errorf("occurrence expiry must be >0, got %s", o.OccurrenceExpiry)
		}
		return &Threshold{Ledger: l, Threshold: o.AlertThreshold, Expiry: o.OccurrenceExpiry}, nil
	default:
		return nil, fmt.Errorf("unknown debounce policy %q", o.Policy)
	}
}

// resolve is shared by both policies: a resolution email goes out only if
// the marker proving an alert email was sent is still live.
func resolve(ctx context.Context, l repo.Ledger, key string) (Outcome, error) {
	removed, err := l.Delete(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if !removed {
		return Outcome{Decision: Suppress, Reason: "nothing_to_resolve", Resolution: true}, nil
	}
	return Outcome{Decision: SendEmail, Reason: "resolved", Resolution: true}, nil
}

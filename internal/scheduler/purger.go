package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purgeable is a ledger whose backend does not expire entries on its own.
type Purgeable interface {
	Purge(ctx context.Context) (int64, error)
}

// Purger periodically drops expired ledger entries. Redis expires keys
// natively and needs no purger.
type Purger struct {
	Logger   *zap.Logger
	Store    Purgeable
	Interval time.Duration
	Timeout  time.Duration
}

func NewPurger(logger *zap.Logger, store Purgeable, interval time.Duration) *Purger {
	if interval < 0 {
		interval = 0
	}
	return &Purger{
		Logger:   logger,
		Store:    store,
		Interval: interval,
		Timeout:  30 * time.Second,
	}
}

// Run does an immediate pass, then runs each tick until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	if p.Interval == 0 {
		p.Logger.Info("purger_disabled")
		return
	}
	t := time.NewTicker(p.Interval)
	defer t.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("purger_stopped")
			return
		case <-t.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Purger) runOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	n, err := p.Store.Purge(cctx)
	if err != nil {
		p.Logger.Warn("purger_error", zap.Error(err))
		return
	}
	if n > 0 {
		p.Logger.Debug("purger_removed", zap.Int64("rows", n))
	}
}

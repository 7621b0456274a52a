// Package handler runs one monitoring event through filtering, debouncing,
// rendering and delivery.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/debounce"
	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/notify"
	"github.com/hamed0406/delayedmailer/internal/render"
)

var ErrNoRecipients = errors.New("no recipients configured")

// ErrLedger wraps every failure of the dedup ledger store.
var ErrLedger = errors.New("ledger unavailable")

// Filter is satisfied by filter.Chain.
type Filter interface {
	Filter(ctx context.Context, ev domain.Event) (string, error)
}

type Handler struct {
	Logger     *zap.Logger
	Policy     debounce.Policy
	Filters    Filter
	Renderer   *render.Renderer
	Mailer     notify.Mailer
	Recipients []string
	// Status receives one human-readable line per recipient.
	Status io.Writer

	statusMu sync.Mutex
	locks    keyLock
}

func New(l *zap.Logger, p debounce.Policy, f Filter, r *render.Renderer, m notify.Mailer, recipients []string, status io.Writer) *Handler {
	if l == nil {
		l = zap.NewNop()
	}
	if status == nil {
		status = io.Discard
	}
	return &Handler{
		Logger:     l,
		Policy:     p,
		Filters:    f,
		Renderer:   r,
		Mailer:     m,
		Recipients: recipients,
		Status:     status,
	}
}

type Result struct {
	Identity   domain.Identity   `json:"identity"`
	Decision   string            `json:"decision"`
	Reason     string            `json:"reason"`
	Filtered   bool              `json:"filtered,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Deliveries []notify.Delivery `json:"-"`
	Sent       []string          `json:"sent,omitempty"`
	Failed     []string          `json:"failed,omitempty"`
}

// Handle is safe for concurrent use. Decisions for the same identity are
// serialized; deliveries run outside the lock.
func (h *Handler) Handle(ctx context.Context, ev domain.Event) (Result, error) {
	start := time.Now()
	defer func() { handleDuration.Observe(time.Since(start).Seconds()) }()

	if err := ev.Validate(); err != nil {
		return Result{}, err
	}
	id := ev.Identity()
	res := Result{Identity: id}

	recipients := h.Recipients
	if len(recipients) == 0 {
		return res, ErrNoRecipients
	}

	if h.Filters != nil {
		reason, err := h.Filters.Filter(ctx, ev)
		if err != nil {
			// Fail open: a filter error never suppresses.
			h.log().Warn("filter_error", zap.String("identity", string(id)), zap.Error(err))
		}
		if reason != "" {
			filteredTotal.WithLabelValues(filterName(reason)).Inc()
			h.log().Info("event_filtered", zap.String("identity", string(id)), zap.String("reason", reason))
			res.Decision, res.Reason, res.Filtered = debounce.Suppress.String(), reason, true
			return res, nil
		}
	}

	out, err := h.decide(ctx, ev)
	if err != nil {
		return res, fmt.Errorf("%w: debounce %s: %w", ErrLedger, id, err)
	}
	res.Decision, res.Reason = out.Decision.String(), out.Reason
	decisionsTotal.WithLabelValues(h.Policy.Name(), res.Decision, out.Reason).Inc()

	h.log().Info("decision",
		zap.String("identity", string(id)),
		zap.String("action", string(ev.Action)),
		zap.String("policy", h.Policy.Name()),
		zap.String("decision", res.Decision),
		zap.String("reason", out.Reason),
	)
	if out.Decision != debounce.SendEmail {
		return res, nil
	}

	msg, err := h.Renderer.Render(ev, h.Policy.Period())
	if err != nil {
		return res, err
	}
	res.Subject = msg.Subject

	// The ledger already records this email; a failed send is not rolled back.
	res.Deliveries = h.Mailer.Deliver(ctx, msg, recipients)
	for _, d := range res.Deliveries {
		h.report(ev, d)
		if d.OK() {
			res.Sent = append(res.Sent, d.Recipient)
		} else {
			res.Failed = append(res.Failed, d.Recipient)
		}
	}
	return res, nil
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) decide(ctx context.Context, ev domain.Event) (debounce.Outcome, error) {
	unlock := h.locks.Lock(string(ev.Identity()))
	defer unlock()
	return h.Policy.Decide(ctx, ev)
}

func (h *Handler) report(ev domain.Event, d notify.Delivery) {
	id := ev.Identity()
	var line, status string
	switch {
	case d.OK():
		status = "sent"
		line = fmt.Sprintf("mail -- sent alert for %s to %s", id, d.Recipient)
	case d.TimedOut, d.Unreachable:
		status = "timeout"
		if d.Unreachable {
			status = "unreachable"
		}
		line = fmt.Sprintf("mail -- timed out while attempting to %s an incident -- %s", ev.Action, id)
	default:
		status = "failed"
		line = fmt.Sprintf("mail -- failed to %s an incident -- %s: %v", ev.Action, id, d.Err)
	}
	deliveriesTotal.WithLabelValues(status).Inc()

	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	if h.Status == nil {
		return
	}
	fmt.Fprintln(h.Status, line)
}

// filterName extracts the "<filter>: " prefix Chain puts on reasons.
func filterName(reason string) string {
	if name, _, ok := strings.Cut(reason, ":"); ok {
		return name
	}
	return "unknown"
}

// Package intake feeds events published on NATS into the handler.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/handler"
)

const QueueGroup = "delayedmailer"

type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event) (handler.Result, error)
}

type Subscriber struct {
	log     *zap.Logger
	handler EventHandler
	subject string
	// Timeout bounds one event including delivery to every recipient.
	Timeout time.Duration
	// DrainTimeout bounds Stop. Events still queued after it are dropped.
	DrainTimeout time.Duration

	ctx  context.Context
	sub  *nats.Subscription
	done chan struct{}
}

func NewSubscriber(log *zap.Logger, h EventHandler, subject string) *Subscriber {
	return &Subscriber{
		log:          log,
		handler:      h,
		subject:      subject,
		Timeout:      2 * time.Minute,
		DrainTimeout: 30 * time.Second,
		ctx:          context.Background(),
	}
}

// Connect dials NATS with exponential backoff until it succeeds or ctx ends.
// Once connected the client reconnects on its own.
func Connect(ctx context.Context, log *zap.Logger, url string) (*nats.Conn, error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		nc, err := nats.Connect(
			url,
			nats.Name("delayedmailer"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn("nats_disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("nats_reconnected", zap.String("url", c.ConnectedUrl()))
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				log.Info("nats_closed")
			}),
		)
		if err == nil {
			log.Info("nats_connected", zap.String("url", url))
			return nc, nil
		}

		log.Warn("nats_connect_failed", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Start joins the queue group so several service replicas share the stream.
// Events are handled one at a time by a single worker. Cancelling ctx does not
// abort them; Stop drains what was already delivered.
func (s *Subscriber) Start(ctx context.Context, nc *nats.Conn) error {
	sub, err := nc.QueueSubscribeSync(s.subject, QueueGroup)
	if err != nil {
		return err
	}
	s.ctx = context.WithoutCancel(ctx)
	s.sub = sub
	s.done = make(chan struct{})
	go s.run()
	s.log.Info("nats_subscribed", zap.String("subject", s.subject), zap.String("queue", QueueGroup))
	return nil
}

const pollInterval = 500 * time.Millisecond

func (s *Subscriber) run() {
	defer close(s.done)
	for {
		msg, err := s.sub.NextMsg(pollInterval)
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			// The subscription is closed once a drain completes.
			s.log.Info("nats_subscription_closed", zap.String("reason", err.Error()))
			return
		}
		s.handleMessage(msg)
	}
}

// Stop drains the subscription and returns once every event delivered before
// the drain has been handled, or after DrainTimeout.
func (s *Subscriber) Stop() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		s.log.Warn("nats_drain_error", zap.Error(err))
		_ = s.sub.Unsubscribe()
	}
	select {
	case <-s.done:
		return
	case <-time.After(s.DrainTimeout):
	}
	s.log.Warn("nats_drain_timeout", zap.Duration("after", s.DrainTimeout))
	_ = s.sub.Unsubscribe()
	<-s.done
}

type reply struct {
	Result *handler.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Subscriber) handleMessage(msg *nats.Msg) {
	r := s.process(msg.Data)
	if msg.Reply == "" {
		return
	}
	b, _ := json.Marshal(r)
	if err := msg.Respond(b); err != nil {
		s.log.Warn("nats_reply_error", zap.Error(err))
	}
}

func (s *Subscriber) process(data []byte) reply {
	ev, err := domain.Unmarshal(data)
	if err != nil {
		s.log.Warn("nats_bad_event", zap.Error(err))
		return reply{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.Timeout)
	defer cancel()

	res, err := s.handler.Handle(ctx, ev)
	if err != nil {
		s.log.Error("nats_event_failed", zap.String("identity", string(ev.Identity())), zap.Error(err))
		return reply{Error: err.Error()}
	}
	return reply{Result: &res}
}

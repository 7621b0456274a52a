package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/handler"
)

type fakeHandler struct {
	mu      sync.Mutex
	events  []domain.Event
	ctxErrs []error
	err     error
	delay   time.Duration
	started chan struct{}
}

func (f *fakeHandler) Handle(ctx context.Context, ev domain.Event) (handler.Result, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return handler.Result{}, f.err
	}
	return handler.Result{Identity: ev.Identity(), Decision: "send"}, nil
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(ns.Shutdown)
	return ns
}

func connect(t *testing.T, ns *server.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

const event = `{"client":{"name":"web1"},"check":{"name":"disk","output":"x","issued":1700000000},"action":"resolve"}`

func TestHandleMessage_DispatchesEvent(t *testing.T) {
	h := &fakeHandler{}
	s := NewSubscriber(zap.NewNop(), h, "sensu.events")

	s.handleMessage(&nats.Msg{Subject: "sensu.events", Data: []byte(event)})

	require.Len(t, h.events, 1)
	assert.Equal(t, domain.Identity("web1/disk"), h.events[0].Identity())
	assert.True(t, h.events[0].Action.IsResolve())
	assert.Equal(t, 1, h.events[0].Occurrences)
}

func TestProcess_Reply(t *testing.T) {
	h := &fakeHandler{}
	s := NewSubscriber(zap.NewNop(), h, "sensu.events")

	r := s.process([]byte(event))
	require.NotNil(t, r.Result)
	assert.Equal(t, "send", r.Result.Decision)
	assert.Empty(t, r.Error)

	r = s.process([]byte(`{"client":{"name":"web1"}}`))
	assert.Nil(t, r.Result)
	assert.Contains(t, r.Error, "missing check")
	assert.Len(t, h.events, 1, "malformed events never reach the handler")

	h.err = errors.New("redis exists: connection refused")
	r = s.process([]byte(event))
	assert.Contains(t, r.Error, "connection refused")
}

func TestStop_WithoutStart(t *testing.T) {
	s := NewSubscriber(zap.NewNop(), &fakeHandler{}, "sensu.events")
	s.Stop()
}

func TestConnect(t *testing.T) {
	ns := runServer(t)

	nc, err := Connect(context.Background(), zap.NewNop(), ns.ClientURL())
	require.NoError(t, err)
	assert.True(t, nc.IsConnected())
	nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Connect(ctx, zap.NewNop(), "nats://127.0.0.1:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriber_QueueGroupSharesEvents(t *testing.T) {
	ns := runServer(t)
	pub := connect(t, ns)

	a, b := &fakeHandler{}, &fakeHandler{}
	sa := NewSubscriber(zap.NewNop(), a, "sensu.events")
	sb := NewSubscriber(zap.NewNop(), b, "sensu.events")
	require.NoError(t, sa.Start(context.Background(), connect(t, ns)))
	require.NoError(t, sb.Start(context.Background(), connect(t, ns)))

	for i := 0; i < 10; i++ {
		require.NoError(t, pub.Publish("sensu.events", []byte(event)))
	}
	require.NoError(t, pub.Flush())

	assert.Eventually(t, func() bool { return a.count()+b.count() == 10 }, 5*time.Second, 10*time.Millisecond)
	sa.Stop()
	sb.Stop()
	assert.Equal(t, 10, a.count()+b.count(), "each event handled by exactly one member")
}

func TestSubscriber_RequestReply(t *testing.T) {
	ns := runServer(t)
	h := &fakeHandler{}
	s := NewSubscriber(zap.NewNop(), h, "sensu.events")
	require.NoError(t, s.Start(context.Background(), connect(t, ns)))
	defer s.Stop()

	client := connect(t, ns)
	msg, err := client.Request("sensu.events", []byte(event), 5*time.Second)
	require.NoError(t, err)

	var r struct {
		Result *handler.Result `json:"result"`
		Error  string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &r))
	require.NotNil(t, r.Result)
	assert.Equal(t, domain.Identity("web1/disk"), r.Result.Identity)
	assert.Equal(t, "send", r.Result.Decision)

	msg, err = client.Request("sensu.events", []byte(`{"client":{"name":"web1"}}`), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &r))
	assert.Contains(t, r.Error, "missing check")
}

func TestSubscriber_StopWaitsForQueuedEvents(t *testing.T) {
	ns := runServer(t)
	pub := connect(t, ns)

	h := &fakeHandler{delay: 200 * time.Millisecond, started: make(chan struct{}, 1)}
	s := NewSubscriber(zap.NewNop(), h, "sensu.events")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, connect(t, ns)))

	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Publish("sensu.events", []byte(event)))
	}
	require.NoError(t, pub.Flush())

	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first event never reached the handler")
	}
	// Shutdown cancels the service context before stopping intake.
	cancel()
	s.Stop()

	assert.Equal(t, 3, h.count(), "Stop returned before queued events were handled")
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, err := range h.ctxErrs {
		assert.NoError(t, err, "queued events must not see the cancelled service context")
	}
}

func TestSubscriber_StopTwice(t *testing.T) {
	ns := runServer(t)
	s := NewSubscriber(zap.NewNop(), &fakeHandler{}, "sensu.events")
	require.NoError(t, s.Start(context.Background(), connect(t, ns)))
	s.Stop()
	s.Stop()
}

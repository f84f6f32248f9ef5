package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"trading-hub/src/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []models.MActionRequest
	forgotten []string
}

func (s *recordingSubmitter) Submit(ctx context.Context, connID string, req models.MActionRequest) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, req)
	return req.ActionID
}

func (s *recordingSubmitter) Forget(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, connID)
}

// stalledBus accepts every Forward call and holds it until ctx is done.
type stalledBus struct {
	forwards chan struct{}
}

func (b *stalledBus) Forward(ctx context.Context, evt models.MOutboundEvent) error {
	b.forwards <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (b *stalledBus) Run(ctx context.Context, deliver func(models.MOutboundEvent)) error {
	<-ctx.Done()
	return nil
}

func (b *stalledBus) Close() error { return nil }

func connectDrained(t *testing.T, h *Hub) *Connection {
	t.Helper()
	c := h.Connect("test")
	greeting := drain(t, c)
	require.Len(t, greeting, 1)
	require.Equal(t, models.MsgConnection, greeting[0].Type)
	return c
}

func TestConnect_SendsClientID(t *testing.T) {
	h, m, _ := newTestHub(t, nil)
	c := h.Connect("1.2.3.4:5")

	frames := drain(t, c)
	require.Len(t, frames, 1)
	var payload models.MConnectionPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, c.ID(), payload.ClientID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestHandleClientMessage_SubscribeAndUnsubscribe(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	c := connectDrained(t, h)

	h.HandleClientMessage(c, []byte(`{"type":"subscribe","data":{"channels":["portfolio","news"]}}`))
	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, models.MsgSubscriptionConfirmed, frames[0].Type)
	assert.JSONEq(t, `{"channels":["portfolio","news"]}`, string(frames[0].Data))
	assert.Equal(t, []string{"news", "portfolio"}, h.Registry().TopicsOf(c.ID()))

	h.HandleClientMessage(c, []byte(`{"type":"unsubscribe","data":{"channels":["portfolio"]}}`))
	frames = drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, models.MsgUnsubscriptionConfirmed, frames[0].Type)
	assert.Equal(t, []string{"news"}, h.Registry().TopicsOf(c.ID()))
	checkInvariants(t, h.Registry())
}

func TestHandleClientMessage_Errors(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	c := connectDrained(t, h)

	cases := map[string]string{
		`not json`:                        "Invalid message format",
		`{"data":{}}`:                     "Invalid message format",
		`{"type":"subscribe"}`:            "No channels specified",
		`{"type":"subscribe","data":{}}`:  "No channels specified",
		`{"type":"unsubscribe","data":1}`: "Invalid channels payload",
		`{"type":"trading_action"}`:       "Missing trading action payload",
	}
	for raw, want := range cases {
		h.HandleClientMessage(c, []byte(raw))
		frames := drain(t, c)
		require.Len(t, frames, 1, raw)
		assert.Equal(t, models.MsgError, frames[0].Type, raw)
		var payload models.MErrorPayload
		require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
		assert.Equal(t, want, payload.Message, raw)
	}

	// The connection survives malformed input.
	_, ok := h.Registry().Get(c.ID())
	assert.True(t, ok)
}

func TestHandleClientMessage_PingAndUnknown(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	c := connectDrained(t, h)

	h.HandleClientMessage(c, []byte(`{"type":"ping"}`))
	h.HandleClientMessage(c, []byte(`{"type":"dance","data":{}}`))

	assert.Equal(t, []string{models.MsgPong}, types(drain(t, c)))
}

func TestHandleClientMessage_TradingAction(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	c := connectDrained(t, h)

	h.HandleClientMessage(c, []byte(`{"type":"trading_action","data":{"action":"buy"}}`))
	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, models.MsgError, frames[0].Type)

	sub := &recordingSubmitter{}
	h.SetActionSubmitter(sub)
	h.HandleClientMessage(c, []byte(`{"type":"trading_action","data":{"actionId":"a1","action":"buy","symbol":"AAPL","quantity":3,"reason":"momentum"}}`))

	require.Len(t, sub.submitted, 1)
	req := sub.submitted[0]
	assert.Equal(t, "a1", req.ActionID)
	assert.Equal(t, "AAPL", req.Symbol)
	assert.Equal(t, 3.0, req.Quantity)
	assert.Equal(t, "momentum", req.Params["reason"])

	h.Disconnect(c.ID())
	assert.Equal(t, []string{c.ID()}, sub.forgotten)
}

func TestBroadcastTopic_OnlySubscribers(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	a := connectDrained(t, h)
	b := connectDrained(t, h)
	other := connectDrained(t, h)
	h.Registry().Subscribe(a.ID(), []string{"portfolio"})
	h.Registry().Subscribe(b.ID(), []string{"portfolio", "news"})
	h.Registry().Subscribe(other.ID(), []string{"news"})

	n := h.BroadcastTopic("portfolio", models.NewMessage(models.MsgPortfolioUpdate, map[string]float64{"total_value": 1}))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{models.MsgPortfolioUpdate}, types(drain(t, a)))
	assert.Equal(t, []string{models.MsgPortfolioUpdate}, types(drain(t, b)))
	assert.Empty(t, drain(t, other))

	assert.Equal(t, 0, h.BroadcastTopic("alerts", models.NewMessage(models.MsgAlert, nil)))
}

func TestBroadcastTopics_OncePerConnection(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	a := connectDrained(t, h)
	b := connectDrained(t, h)
	h.Registry().Subscribe(a.ID(), []string{"portfolio", "trading"})
	h.Registry().Subscribe(b.ID(), []string{"trading"})

	n := h.BroadcastTopics([]string{"portfolio", "trading"}, models.NewMessage(models.MsgPortfolioUpdate, nil))
	assert.Equal(t, 2, n)
	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
}

func TestBroadcastAll_IncludesUnsubscribed(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	a := connectDrained(t, h)
	b := connectDrained(t, h)
	h.Registry().Subscribe(a.ID(), []string{"news"})

	assert.Equal(t, 2, h.BroadcastAll(models.NewMessage(models.MsgAlert, nil)))
	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
}

func TestSendTo_UnknownOrClosed(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	assert.False(t, h.SendTo("nobody", models.NewMessage(models.MsgPong, nil)))

	c := connectDrained(t, h)
	c.Close()
	assert.False(t, h.SendTo(c.ID(), models.NewMessage(models.MsgPong, nil)))
}

func TestEnqueue_SlowConsumerDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.Server.SendBufferSize = 2
	h, m, _ := newTestHub(t, cfg)
	slow := h.Connect("slow") // greeting occupies one slot
	fast := connectDrained(t, h)
	h.Registry().Subscribe(slow.ID(), []string{"market"})
	h.Registry().Subscribe(fast.ID(), []string{"market"})

	msg := models.NewMessage(models.MsgMarketData, nil)
	assert.Equal(t, 2, h.BroadcastTopic("market", msg))
	drain(t, fast)
	assert.Equal(t, 1, h.BroadcastTopic("market", msg), "the full connection is skipped")
	drain(t, fast)

	_, ok := h.Registry().Get(slow.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, h.BroadcastTopic("market", msg))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("buffer_full")))
	checkInvariants(t, h.Registry())
}

func TestPublish_DeliveredByRunLoop(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	a := connectDrained(t, h)
	h.Registry().Subscribe(a.ID(), []string{"news"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	require.True(t, h.Publish(models.MOutboundEvent{
		Topics:  []string{"news"},
		Message: models.NewMessage(models.MsgNewsUpdate, []string{"headline"}),
	}))

	select {
	case raw := <-a.Outbound():
		assert.Contains(t, string(raw), models.MsgNewsUpdate)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestPublish_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Server.EventQueueSize = 1
	h, m, _ := newTestHub(t, cfg)

	evt := models.MOutboundEvent{Message: models.NewMessage(models.MsgAlert, nil)}
	assert.True(t, h.Publish(evt))
	assert.False(t, h.Publish(evt))
	assert.False(t, h.Publish(models.MOutboundEvent{}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("queue_full")))
}

func TestRun_StalledFanoutBusDoesNotBlockLocalDelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Server.EventQueueSize = 2
	h, m, _ := newTestHub(t, cfg)
	bus := &stalledBus{forwards: make(chan struct{}, 1)}
	h.SetFanoutBus(bus)

	a := connectDrained(t, h)
	h.Registry().Subscribe(a.ID(), []string{"portfolio"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	for i := 0; i < 10; i++ {
		require.True(t, h.Publish(models.MOutboundEvent{
			Topics:  []string{"portfolio"},
			Message: models.NewMessage(models.MsgPortfolioUpdate, map[string]int{"seq": i}),
		}), "event %d dropped from the local queue", i)

		select {
		case raw := <-a.Outbound():
			assert.Contains(t, string(raw), models.MsgPortfolioUpdate)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d was not delivered locally", i)
		}
	}

	<-bus.forwards
	assert.Zero(t, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("queue_full")))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.MessagesDropped.WithLabelValues("forward_queue_full")) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnect_AfterShutdownStartedIsClosed(t *testing.T) {
	h, m, _ := newTestHub(t, nil)
	h.Shutdown("maintenance")

	c := h.Connect("late")

	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, models.MsgServerShutdown, frames[0].Type)
	select {
	case <-c.Done():
	default:
		t.Fatal("late connection still open")
	}
	assert.Zero(t, h.Registry().Count())
	assert.Zero(t, testutil.ToFloat64(m.ActiveConnections))
}

func TestShutdown_NotifiesThenCloses(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	a := connectDrained(t, h)
	b := connectDrained(t, h)

	h.Shutdown("maintenance")

	for _, c := range []*Connection{a, b} {
		frames := drain(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, models.MsgServerShutdown, frames[0].Type)
		assert.JSONEq(t, `{"message":"maintenance"}`, string(frames[0].Data))
		select {
		case <-c.Done():
		default:
			t.Fatal("connection still open")
		}
	}
	assert.Zero(t, h.Registry().Count())

	// Idempotent.
	h.Shutdown("again")
}

func TestStats(t *testing.T) {
	h, _, _ := newTestHub(t, nil)
	a := connectDrained(t, h)
	h.Registry().Subscribe(a.ID(), []string{"alerts"})

	stats := h.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, map[string]int{"alerts": 1}, stats.Topics)
}

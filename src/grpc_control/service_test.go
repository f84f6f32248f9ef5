package grpc_control

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"trading-hub/src/logger"
	"trading-hub/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeHub struct {
	mu        sync.Mutex
	published []models.MOutboundEvent
	conns     map[string]bool
	full      bool
	startedAt time.Time
}

func (h *fakeHub) Stats() models.MHubStats {
	return models.MHubStats{
		Connections: len(h.conns),
		Topics:      map[string]int{"portfolio": 2, "news": 1},
		StartedAt:   h.startedAt,
	}
}

func (h *fakeHub) Connections() []models.MConnectionInfo {
	var out []models.MConnectionInfo
	for id := range h.conns {
		out = append(out, models.MConnectionInfo{ID: id, Alive: true, Topics: []string{"news"}})
	}
	return out
}

func (h *fakeHub) Publish(evt models.MOutboundEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return false
	}
	h.published = append(h.published, evt)
	return true
}

func (h *fakeHub) Disconnect(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.conns[id] {
		return false
	}
	delete(h.conns, id)
	return true
}

func startControl(t *testing.T) (*ControlClient, *fakeHub, *ControlService) {
	t.Helper()
	hub := &fakeHub{conns: map[string]bool{"c1": true}, startedAt: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)}
	log := logger.NewLoggerWithWriter(nil, "control", io.Discard)
	svc := NewControlService(hub, log)
	svc.now = func() time.Time { return hub.startedAt.Add(90 * time.Second) }

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(log)
	RegisterControlServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return NewControlClient(conn), hub, svc
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

// -----------------------------------------------------------------------------

func TestGetStatus(t *testing.T) {
	client, _, _ := startControl(t)

	resp, err := client.GetStatus(context.Background())
	require.NoError(t, err)

	fields := resp.AsMap()
	assert.Equal(t, 1.0, fields["connections"])
	assert.Equal(t, 90.0, fields["uptime_seconds"])
	assert.Equal(t, "2026-01-02T15:00:00Z", fields["started_at"])
	assert.Equal(t, map[string]any{"portfolio": 2.0, "news": 1.0}, fields["topics"])
}

func TestListConnections(t *testing.T) {
	client, _, _ := startControl(t)

	resp, err := client.ListConnections(context.Background())
	require.NoError(t, err)
	fields := resp.AsMap()
	assert.Equal(t, 1.0, fields["count"])

	conns := fields["connections"].([]any)
	require.Len(t, conns, 1)
	assert.Equal(t, "c1", conns[0].(map[string]any)["id"])
}

func TestPublishAlert(t *testing.T) {
	client, hub, _ := startControl(t)

	resp, err := client.PublishAlert(context.Background(), mustStruct(t, map[string]any{
		"message": "Drawdown above 5%",
		"symbol":  "TSLA",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resp.AsMap()["queued"])

	require.Len(t, hub.published, 1)
	evt := hub.published[0]
	assert.Equal(t, []string{models.TopicAlerts}, evt.Topics)
	assert.Equal(t, models.MsgAlert, evt.Message.Type)
	alert := evt.Message.Data.(models.MAlertPayload)
	assert.Equal(t, "info", alert.Level)
	assert.Equal(t, "operator", alert.Source)
	assert.Equal(t, "TSLA", alert.Symbol)
}

func TestPublishAlert_Validation(t *testing.T) {
	client, hub, _ := startControl(t)

	_, err := client.PublishAlert(context.Background(), mustStruct(t, map[string]any{"level": "warn"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, hub.published)
}

func TestPublishDecision(t *testing.T) {
	client, hub, _ := startControl(t)

	_, err := client.PublishDecision(context.Background(), mustStruct(t, map[string]any{
		"action":   "buy",
		"symbol":   "NVDA",
		"quantity": 3,
		"source":   "inference",
	}))
	require.NoError(t, err)

	require.Len(t, hub.published, 1)
	evt := hub.published[0]
	assert.Equal(t, []string{models.TopicTrading}, evt.Topics)
	decision := evt.Message.Data.(models.MTradingDecision)
	assert.Equal(t, "NVDA", decision.Symbol)
	assert.Equal(t, 3.0, decision.Quantity)
	assert.Equal(t, "inference", decision.Source)

	_, err = client.PublishDecision(context.Background(), mustStruct(t, map[string]any{"symbol": "NVDA"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPublish_QueueFull(t *testing.T) {
	client, hub, _ := startControl(t)
	hub.full = true

	_, err := client.PublishAlert(context.Background(), mustStruct(t, map[string]any{"message": "x"}))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestDisconnect(t *testing.T) {
	client, hub, _ := startControl(t)

	resp, err := client.Disconnect(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.AsMap()["disconnected"])
	assert.Empty(t, hub.conns)

	_, err = client.Disconnect(context.Background(), "c1")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Disconnect(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trading-hub/src/helpers"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/models"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const forwardTimeout = 2 * time.Second

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

// Hub owns the registry and is the broadcast dispatcher. Producers hand it
// events through Publish; a single loop drains them in order.
type Hub struct {
	Config *models.MConfig
	Logger *logger.Logger

	registry *Registry
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	upgrader websocket.Upgrader

	events   chan models.MOutboundEvent
	forwards chan models.MOutboundEvent
	actions  interfaces.IActionSubmitter
	bus      interfaces.IFanoutBus

	ctxMu  sync.RWMutex
	runCtx context.Context

	startedAt    time.Time
	shuttingDown atomic.Bool
	pumps        sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewHub(cfg *models.MConfig, log *logger.Logger, m *metrics.Metrics, clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	queue := cfg.Server.EventQueueSize
	if queue < 1 {
		queue = 1
	}

	h := &Hub{
		Config:    cfg,
		Logger:    log,
		registry:  NewRegistry(cfg.Server.SendBufferSize, clock),
		metrics:   m,
		clock:     clock,
		events:    make(chan models.MOutboundEvent, queue),
		forwards:  make(chan models.MOutboundEvent, queue),
		startedAt: clock.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetActionSubmitter wires the action relay. Call before serving.
func (h *Hub) SetActionSubmitter(a interfaces.IActionSubmitter) {
	h.actions = a
}

// SetFanoutBus mirrors published events to other instances. Call before Run.
func (h *Hub) SetFanoutBus(bus interfaces.IFanoutBus) {
	h.bus = bus
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// -----------------------------------------------------------------------------
// Event loop
// -----------------------------------------------------------------------------

// Run drains published events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.ctxMu.Lock()
	h.runCtx = ctx
	h.ctxMu.Unlock()

	if h.bus != nil {
		go func() {
			if err := h.bus.Run(ctx, h.deliverRemote); err != nil && ctx.Err() == nil {
				h.Logger.Error("Fanout bus stopped: %v", err)
			}
		}()
		go h.forwardLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-h.events:
			h.deliver(evt)
			if h.bus != nil {
				h.queueForward(evt)
			}
		}
	}
}

// queueForward hands evt to the fanout goroutine. Local delivery never waits
// on the bus.
func (h *Hub) queueForward(evt models.MOutboundEvent) {
	select {
	case h.forwards <- evt:
	default:
		h.metrics.MessagesDropped.WithLabelValues("forward_queue_full").Inc()
		h.Logger.Warning("Fanout queue full, not forwarding %s", evt.Message.Type)
	}
}

func (h *Hub) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-h.forwards:
			fctx, cancel := context.WithTimeout(ctx, forwardTimeout)
			if err := h.bus.Forward(fctx, evt); err != nil {
				h.Logger.Warning("Failed to forward %s to fanout bus: %v", evt.Message.Type, err)
			}
			cancel()
		}
	}
}

// Publish queues an event for the loop without blocking.
func (h *Hub) Publish(evt models.MOutboundEvent) bool {
	if evt.Message == nil {
		return false
	}
	select {
	case h.events <- evt:
		return true
	default:
		h.metrics.MessagesDropped.WithLabelValues("queue_full").Inc()
		h.Logger.Warning("Event queue full, dropping %s for %v", evt.Message.Type, evt.Topics)
		return false
	}
}

func (h *Hub) deliver(evt models.MOutboundEvent) int {
	if len(evt.Topics) == 0 {
		return h.BroadcastAll(evt.Message)
	}
	return h.BroadcastTopics(evt.Topics, evt.Message)
}

// deliverRemote handles events from other instances; they are never forwarded again.
func (h *Hub) deliverRemote(evt models.MOutboundEvent) {
	if evt.Message == nil {
		return
	}
	h.deliver(evt)
}

func (h *Hub) context() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	if h.runCtx == nil {
		return context.Background()
	}
	return h.runCtx
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

// SendTo queues msg for one connection.
func (h *Hub) SendTo(connID string, msg *models.MOutboundMessage) bool {
	c, ok := h.registry.Get(connID)
	if !ok {
		return false
	}
	return h.fanout([]*Connection{c}, msg) == 1
}

// BroadcastTopic queues msg for every subscriber of topic.
func (h *Hub) BroadcastTopic(topic string, msg *models.MOutboundMessage) int {
	return h.fanout(h.registry.subscribersOfAny([]string{topic}), msg)
}

// BroadcastTopics queues msg once for every connection subscribed to any of topics.
func (h *Hub) BroadcastTopics(topics []string, msg *models.MOutboundMessage) int {
	topics = normalizeTopics(topics)
	if len(topics) == 0 {
		return 0
	}
	return h.fanout(h.registry.subscribersOfAny(topics), msg)
}

// BroadcastAll queues msg for every live connection.
func (h *Hub) BroadcastAll(msg *models.MOutboundMessage) int {
	return h.fanout(h.registry.Snapshot(), msg)
}

// fanout encodes msg once and queues the frame to each connection.
func (h *Hub) fanout(conns []*Connection, msg *models.MOutboundMessage) int {
	if len(conns) == 0 || msg == nil {
		return 0
	}

	frame, err := msg.Encode()
	if err != nil {
		h.Logger.Error("Failed to encode %s message: %v", msg.Type, err)
		return 0
	}

	delivered := 0
	for _, c := range conns {
		if h.enqueue(c, frame, msg.Type) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) enqueue(c *Connection, frame []byte, msgType string) bool {
	if c.Enqueue(frame) {
		h.metrics.MessagesSent.WithLabelValues(msgType).Inc()
		return true
	}

	if c.closed() {
		h.metrics.MessagesDropped.WithLabelValues("closed").Inc()
		return false
	}

	// Client too slow; drop it rather than let its backlog grow.
	h.metrics.MessagesDropped.WithLabelValues("buffer_full").Inc()
	h.Logger.Warning("Send buffer full for %s, disconnecting", c.id)
	h.disconnect(c, "send buffer full")
	return false
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

// HandleWebSocket upgrades the request and starts the connection pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	if limit := h.Config.Server.MaxConnections; limit > 0 {
		if n := h.registry.Count(); n >= limit {
			if h.Config.Server.EnforceMaxConnections {
				h.Logger.Warning("Rejecting %s: %d connections (limit %d)", r.RemoteAddr, n, limit)
				http.Error(w, "too many connections", http.StatusServiceUnavailable)
				return
			}
			h.Logger.Warning("Connection count %d is over the soft limit %d", n+1, limit)
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Info("Failed to upgrade websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	h.Attach(ws, r.RemoteAddr)
}

// Attach registers a socket and starts its read and write pumps.
func (h *Hub) Attach(ws *websocket.Conn, remoteAddr string) *Connection {
	c := h.Connect(remoteAddr)

	h.pumps.Add(2)
	go func() {
		defer h.pumps.Done()
		h.writePump(c, ws)
	}()
	go func() {
		defer h.pumps.Done()
		h.readPump(c, ws)
	}()
	return c
}

// Connect registers a connection and queues the greeting. The caller owns
// whatever transport drains Outbound. A connection accepted after Shutdown
// started gets the shutdown notice and is closed straight away.
func (h *Hub) Connect(remoteAddr string) *Connection {
	c := h.registry.Accept(remoteAddr)
	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ActiveConnections.Inc()

	// Shutdown sets the flag before it snapshots the registry, so a
	// connection it missed always sees the flag here.
	if h.shuttingDown.Load() {
		h.SendTo(c.id, models.NewMessage(models.MsgServerShutdown, models.MShutdownPayload{Message: "server shutting down"}))
		h.disconnect(c, "server shutdown")
		return c
	}
	h.Logger.Info("Client %s connected from %s (%d total)", c.id, remoteAddr, h.registry.Count())

	h.SendTo(c.id, models.NewMessage(models.MsgConnection, models.MConnectionPayload{
		ClientID: c.id,
		Message:  "Connected to trading hub",
	}))
	return c
}

// Disconnect closes a connection by id.
func (h *Hub) Disconnect(connID string) bool {
	c, ok := h.registry.Get(connID)
	if !ok {
		return false
	}
	return h.disconnect(c, "closed by operator")
}

// disconnect is idempotent; only the first call for a connection reports true.
func (h *Hub) disconnect(c *Connection, reason string) bool {
	_, removed := h.registry.Remove(c.id)
	c.Close()
	if !removed {
		return false
	}

	h.metrics.ActiveConnections.Dec()
	if h.actions != nil {
		h.actions.Forget(c.id)
	}
	h.Logger.Info("Client %s disconnected (%s)", c.id, reason)
	return true
}

// -----------------------------------------------------------------------------

// Shutdown tells every client the server is going away, then closes them.
// New upgrades are refused from here on.
func (h *Hub) Shutdown(reason string) {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	n := h.BroadcastAll(models.NewMessage(models.MsgServerShutdown, models.MShutdownPayload{Message: reason}))
	for _, c := range h.registry.Snapshot() {
		h.disconnect(c, "server shutdown")
	}
	h.Logger.Info("Shutdown notice sent to %d clients", n)
}

// Drain waits for the connection pumps to finish or ctx to expire.
func (h *Hub) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats summarizes the hub.
func (h *Hub) Stats() models.MHubStats {
	return models.MHubStats{
		Connections: h.registry.Count(),
		Topics:      h.registry.TopicCounts(),
		StartedAt:   h.startedAt,
	}
}

// Connections lists the live connections.
func (h *Hub) Connections() []models.MConnectionInfo {
	return h.registry.ConnectionInfos()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

var inboundTypes = map[string]struct{}{
	models.MsgSubscribe:     {},
	models.MsgUnsubscribe:   {},
	models.MsgPing:          {},
	models.MsgTradingAction: {},
}

// HandleClientMessage interprets one inbound frame. Malformed frames get an
// error reply; unknown types are ignored.
func (h *Hub) HandleClientMessage(c *Connection, raw []byte) {
	var msg models.MInboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		h.metrics.InboundMessages.WithLabelValues("invalid").Inc()
		h.Logger.Debug("Malformed message from %s: %v", c.id, err)
		h.sendError(c, "Invalid message format")
		return
	}

	label := msg.Type
	if _, known := inboundTypes[label]; !known {
		label = "unknown"
	}
	h.metrics.InboundMessages.WithLabelValues(label).Inc()

	switch msg.Type {
	case models.MsgSubscribe:
		channels, err := parseChannels(msg.Data)
		if err != nil {
			h.sendProtocolError(c, err)
			return
		}
		applied := h.registry.Subscribe(c.id, channels)
		h.Logger.Debug("Client %s subscribed to %v", c.id, applied)
		h.SendTo(c.id, models.NewMessage(models.MsgSubscriptionConfirmed, models.MChannelsPayload{Channels: applied}))

	case models.MsgUnsubscribe:
		channels, err := parseChannels(msg.Data)
		if err != nil {
			h.sendProtocolError(c, err)
			return
		}
		applied := h.registry.Unsubscribe(c.id, channels)
		h.Logger.Debug("Client %s unsubscribed from %v", c.id, applied)
		h.SendTo(c.id, models.NewMessage(models.MsgUnsubscriptionConfirmed, models.MChannelsPayload{Channels: applied}))

	case models.MsgPing:
		h.SendTo(c.id, models.NewMessage(models.MsgPong, nil))

	case models.MsgTradingAction:
		req, err := parseActionRequest(msg.Data)
		if err != nil {
			h.sendProtocolError(c, err)
			return
		}
		if h.actions == nil {
			h.sendError(c, "Trading actions are not available")
			return
		}
		h.actions.Submit(h.context(), c.id, req)

	default:
		h.Logger.Debug("Ignoring unknown message type %q from %s", msg.Type, c.id)
	}
}

func (h *Hub) sendError(c *Connection, message string) {
	h.SendTo(c.id, models.NewMessage(models.MsgError, models.MErrorPayload{Message: message}))
}

func (h *Hub) sendProtocolError(c *Connection, err error) {
	var pe *helpers.ProtocolError
	if errors.As(err, &pe) {
		h.sendError(c, pe.Message)
		return
	}
	h.sendError(c, "Invalid message format")
}

// -----------------------------------------------------------------------------

func (h *Hub) checkOrigin(r *http.Request) bool {
	allowed := h.Config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

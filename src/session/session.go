package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"trading-hub/src/helpers"
	"trading-hub/src/logger"
	"trading-hub/src/models"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const writeTimeout = 10 * time.Second

// ErrRetriesExhausted is returned by Run once max_attempts consecutive
// connection attempts have failed.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// ErrNotConnected is returned by Send while the session has no connection.
var ErrNotConnected = errors.New("session not connected")

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// -----------------------------------------------------------------------------

// Message is one frame received from the hub.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Handler is called on the read goroutine, in arrival order.
type Handler func(msg Message)

// Dialer opens the WebSocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// Session keeps one client connection to the hub alive, reconnecting with
// exponential backoff and replaying its subscriptions on every connect.
type Session struct {
	Config models.MClientConfig
	Logger *logger.Logger

	dialer Dialer
	clock  clockwork.Clock
	wait   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	topics   map[string]struct{}
	handlers map[string][]Handler
	onState  []func(State)

	writeMu sync.Mutex
}

// -----------------------------------------------------------------------------

func NewSession(cfg models.MClientConfig, log *logger.Logger, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Session{
		Config:   cfg,
		Logger:   log,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		clock:    clock,
		topics:   make(map[string]struct{}),
		handlers: make(map[string][]Handler),
	}
	for _, ch := range cfg.Channels {
		s.topics[ch] = struct{}{}
	}
	s.wait = s.sleep
	return s
}

// SetDialer replaces the default gorilla dialer.
func (s *Session) SetDialer(d Dialer) {
	s.dialer = d
}

// On registers fn for messages of msgType. Register before Run.
func (s *Session) On(msgType string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = append(s.handlers[msgType], fn)
}

// OnStateChange registers fn for every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Topics returns the retained subscription set.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicList()
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// Subscribe retains topics and, when connected, subscribes right away.
// Retained topics are replayed after every reconnect.
func (s *Session) Subscribe(topics ...string) error {
	s.mu.Lock()
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.Send(models.MsgSubscribe, models.MChannelsPayload{Channels: topics})
}

// Unsubscribe forgets topics and, when connected, unsubscribes right away.
func (s *Session) Unsubscribe(topics ...string) error {
	s.mu.Lock()
	for _, t := range topics {
		delete(s.topics, t)
	}
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.Send(models.MsgUnsubscribe, models.MChannelsPayload{Channels: topics})
}

// SubmitAction sends a trading action to the hub.
func (s *Session) SubmitAction(req models.MActionRequest) error {
	return s.Send(models.MsgTradingAction, req)
}

// -----------------------------------------------------------------------------

// Send writes one {type, data} frame.
func (s *Session) Send(msgType string, data any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return s.write(conn, msgType, data)
}

func (s *Session) write(conn *websocket.Conn, msgType string, data any) error {
	if data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(map[string]any{"type": msgType, "data": data})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// -----------------------------------------------------------------------------
// Connection loop
// -----------------------------------------------------------------------------

// Run connects and keeps reconnecting until ctx is done or MaxAttempts
// consecutive attempts fail. The wait after failed attempt k is
// BaseDelay * 2^(k-1); a dropped connection waits BaseDelay before the
// first new attempt.
func (s *Session) Run(ctx context.Context) error {
	base := time.Duration(s.Config.BaseDelayMillis) * time.Millisecond
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateDisconnected)
			return err
		}

		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			failures++
			s.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if failures >= s.Config.MaxAttempts {
				s.Logger.Error("Giving up on %s after %d attempts: %v", s.Config.URL, failures, err)
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}

			delay := helpers.BackoffDelay(base, failures)
			s.Logger.Warning("Connect attempt %d/%d failed: %v. Retrying in %v", failures, s.Config.MaxAttempts, err, delay)
			if err := s.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		failures = 0
		s.serve(ctx, conn)
		s.setState(StateDisconnected)

		if err := ctx.Err(); err != nil {
			return err
		}
		s.Logger.Warning("Connection to %s lost, reconnecting in %v", s.Config.URL, base)
		if err := s.wait(ctx, base); err != nil {
			return err
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.Config.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, helpers.NewNetworkError(fmt.Sprintf("handshake rejected with status %d", resp.StatusCode), err)
		}
		return nil, helpers.NewNetworkError("dial failed", err)
	}
	return conn, nil
}

// serve owns conn until it closes or ctx is done.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe either lands before this snapshot or sees CONNECTED and
	// sends its own subscribe.
	s.mu.Lock()
	s.conn = conn
	topics := s.topicList()
	listeners, changed := s.transitionLocked(StateConnected)
	s.mu.Unlock()

	s.Logger.Info("Connected to %s", s.Config.URL)
	if changed {
		s.notify(StateConnected, listeners)
	}

	if len(topics) > 0 {
		if err := s.write(conn, models.MsgSubscribe, models.MChannelsPayload{Channels: topics}); err != nil {
			s.Logger.Warning("Failed to replay subscriptions: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.keepAlive(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		if ctx.Err() != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
		}
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.Logger.Info("Read from %s ended: %v", s.Config.URL, err)
			}
			break
		}
		s.dispatch(raw)
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	cancel()
	wg.Wait()
}

func (s *Session) keepAlive(ctx context.Context, conn *websocket.Conn) {
	if s.Config.KeepAliveSeconds <= 0 {
		return
	}
	ticker := s.clock.NewTicker(time.Duration(s.Config.KeepAliveSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.write(conn, models.MsgPing, nil); err != nil {
				s.Logger.Debug("Keep-alive failed: %v", err)
				return
			}
		}
	}
}

func (s *Session) dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.Logger.Warning("Dropping malformed frame: %v", err)
		return
	}

	s.mu.Lock()
	handlers := s.handlers[msg.Type]
	s.mu.Unlock()

	if len(handlers) == 0 {
		s.Logger.Debug("No handler for %s", msg.Type)
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Session) setState(st State) {
	s.mu.Lock()
	listeners, changed := s.transitionLocked(st)
	s.mu.Unlock()

	if changed {
		s.notify(st, listeners)
	}
}

// transitionLocked must be called with mu held. Listeners are returned so
// they run after the lock is released.
func (s *Session) transitionLocked(st State) ([]func(State), bool) {
	if s.state == st {
		return nil, false
	}
	s.state = st
	return append([]func(State){}, s.onState...), true
}

func (s *Session) notify(st State, listeners []func(State)) {
	s.Logger.Debug("Session state %s", st)
	for _, fn := range listeners {
		fn(st)
	}
}

// topicList must be called with mu held.
func (s *Session) topicList() []string {
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

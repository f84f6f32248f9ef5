package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection is one live client. Its topic set is owned by the Registry;
// everything else is safe for concurrent use.
type Connection struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	// alive is cleared by the liveness monitor and set by any inbound traffic
	alive        atomic.Bool
	lastActivity atomic.Int64 // unix nanos

	topics map[string]struct{} // guarded by Registry.mu

	send  chan []byte
	probe chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// -----------------------------------------------------------------------------

func newConnection(id, remoteAddr string, sendBuffer int, now time.Time) *Connection {
	c := &Connection{
		id:          id,
		remoteAddr:  remoteAddr,
		connectedAt: now,
		topics:      make(map[string]struct{}),
		send:        make(chan []byte, sendBuffer),
		probe:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	c.alive.Store(true)
	c.lastActivity.Store(now.UnixNano())
	return c
}

// -----------------------------------------------------------------------------

func (c *Connection) ID() string             { return c.id }
func (c *Connection) RemoteAddr() string     { return c.remoteAddr }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }
func (c *Connection) Alive() bool            { return c.alive.Load() }

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// MarkAlive records inbound traffic.
func (c *Connection) MarkAlive(now time.Time) {
	c.alive.Store(true)
	c.lastActivity.Store(now.UnixNano())
}

// markUnconfirmed clears the alive flag ahead of a probe.
func (c *Connection) markUnconfirmed() {
	c.alive.Store(false)
}

// -----------------------------------------------------------------------------

// Enqueue queues an encoded frame without blocking. It returns false when the
// connection is closed or its buffer is full.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound exposes the queued frames. The write pump is the only consumer
// of a socket-backed connection.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Probe asks the write pump to send a transport ping. Never blocks.
func (c *Connection) Probe() {
	select {
	case c.probe <- struct{}{}:
	default:
	}
}

// Close is idempotent. It does not touch the registry.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from the client
// -----------------------------------------------------------------------------

func (h *Hub) readPump(c *Connection, ws *websocket.Conn) {
	defer h.disconnect(c, "read closed")

	ws.SetReadLimit(h.Config.Server.MaxMessageBytes)
	ws.SetPongHandler(func(string) error {
		c.MarkAlive(h.clock.Now())
		return nil
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.Logger.Info("WebSocket error on %s: %v", c.id, err)
			}
			return
		}
		c.MarkAlive(h.clock.Now())
		h.HandleClientMessage(c, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - the only writer to the socket
// -----------------------------------------------------------------------------

func (h *Hub) writePump(c *Connection, ws *websocket.Conn) {
	writeWait := time.Duration(h.Config.Server.WriteTimeoutSeconds) * time.Second
	defer ws.Close()

	for {
		select {
		case frame := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.Logger.Debug("Write error on %s: %v", c.id, err)
				h.disconnect(c, "write failed")
				return
			}

		case <-c.probe:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.disconnect(c, "ping failed")
				return
			}

		case <-c.done:
			// Flush what was queued before the close, then say goodbye.
			deadline := time.Now().Add(writeWait)
			_ = ws.SetWriteDeadline(deadline)
		flush:
			for {
				select {
				case frame := <-c.send:
					if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					break flush
				}
			}
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("channel closed")

// ErrSendQueueFull is returned when a slow client cannot keep up.
var ErrSendQueueFull = errors.New("send queue full")

// Envelope is the wire frame for both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// wsChannel adapts a gorilla connection to Channel. Writes happen only on the
// write pump goroutine.
type wsChannel struct {
	id     string
	origin string
	conn   *websocket.Conn
	send   chan outbound

	mu          sync.Mutex
	closed      bool
	closeReason string
	done        chan struct{}
}

func newWSChannel(conn *websocket.Conn, origin string) *wsChannel {
	return &wsChannel{
		id:     uuid.NewString(),
		origin: origin,
		conn:   conn,
		send:   make(chan outbound, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *wsChannel) ID() string     { return c.id }
func (c *wsChannel) Origin() string { return c.origin }

// Send enqueues a frame without blocking.
func (c *wsChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- outbound{Event: event, Payload: payload}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close flushes queued frames, then sends a close frame with reason.
func (c *wsChannel) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeReason = reason
	close(c.send)
	return nil
}

func (c *wsChannel) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason())
				_ = c.conn.WriteMessage(websocket.CloseMessage, frame)
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package room

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fila-live/internal/identity"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
)

// Conn wraps one websocket attachment to a room. Outbound frames flow through
// a bounded queue drained by writeLoop; the authority goroutine is the only
// sender, so a receiver that cannot keep up loses frames instead of stalling
// the room.
type Conn struct {
	id       string
	identity *identity.Claims
	ws       *websocket.Conn
	send     chan []byte
	logger   *slog.Logger
}

func newConn(ws *websocket.Conn, claims *identity.Claims, logger *slog.Logger) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		identity: claims,
		ws:       ws,
		send:     make(chan []byte, sendQueueSize),
		logger:   logger,
	}
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Identity returns the verified claims attached at upgrade time, or nil for
// anonymous viewers.
func (c *Conn) Identity() *identity.Claims { return c.identity }

// enqueue hands a frame to the write pump without blocking. Called only from
// the authority goroutine.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.logger.Warn("dropping frame for slow connection", "connection_id", c.id)
		return false
	}
}

// finish closes the outbound queue. Called only from the authority goroutine
// after the connection has been removed from the room.
func (c *Conn) finish() {
	close(c.send)
}

func (c *Conn) writeLoop(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

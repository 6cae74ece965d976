package bus

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskmind-ai/deskmind/internal/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. Queries with pasted text can be
	// large; screenshots never travel client-to-server.
	maxMessageSize = 1 << 20
)

// FrameHandler consumes parsed inbound frames. Handlers run on the
// client's read goroutine and must not block on the turn itself.
type FrameHandler func(event.Frame)

// Client is one WebSocket connection attached to the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	handler FrameHandler
	logger  *slog.Logger
}

// NewClient wraps an upgraded connection. The caller registers it with
// the hub and starts both pumps.
func NewClient(hub *Hub, conn *websocket.Conn, handler FrameHandler) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		handler: handler,
		logger:  hub.logger,
	}
}

// ReadPump reads frames from the connection until it closes. Unknown
// or malformed frames are dropped without closing the connection.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read", "error", err)
			}
			return
		}
		frame, ok := event.ParseFrame(message)
		if !ok {
			continue
		}
		if c.handler != nil {
			c.handler(frame)
		}
	}
}

// WritePump forwards broadcast messages to the connection and keeps it
// alive with pings. One JSON object per WebSocket message.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

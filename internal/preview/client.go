package preview

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streamcast/internal/logging"
)

// client is one websocket consumer. The hub never writes to the connection
// directly; everything funnels through the send channel so a slow reader
// cannot block a broadcast.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	// quality is guarded by hub.mu.
	quality Quality

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// enqueue hands a payload to the write pump. A full buffer means the client
// cannot keep up; it gets disconnected instead of throttling everyone else.
func (c *client) enqueue(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.hub.logger.Warn("preview client too slow, dropping",
			logging.String(logging.FieldClientID, c.id))
	}
}

func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// writePump drains the send channel and keeps the connection alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.drop(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client messages: quality switches and application-level
// pings. Anything malformed is logged and ignored; the connection survives.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("malformed preview message",
				logging.String(logging.FieldClientID, c.id),
				logging.Error(err))
			continue
		}
		switch msg.Kind {
		case kindQuality:
			quality, err := parseQuality(msg.Quality)
			if err != nil {
				c.hub.logger.Warn("malformed preview message",
					logging.String(logging.FieldClientID, c.id),
					logging.Error(err))
				continue
			}
			c.hub.setQuality(c, quality)
		case kindPing:
			c.enqueue(pongMessage)
		case kindPong:
			// Keepalive already extended above.
		default:
			c.hub.logger.Warn("malformed preview message",
				logging.String(logging.FieldClientID, c.id),
				logging.String("kind", msg.Kind))
		}
	}
}

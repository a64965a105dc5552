package relay

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 256
	maxMessageSize = 16 << 20

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// client is one WebSocket connection in a room.
type client struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
}

// readPump forwards everything the client sends to its room until the
// socket fails. It unregisters the client on return.
func (c *client) readPump(s *Server, r *room) {
	defer func() {
		select {
		case r.unregister <- c:
		case <-r.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client read failed", "room", r.name, "client", c.id, "error", err)
			}
			return
		}
		s.metrics.Messages.With("source", "client").Add(1)

		select {
		case r.broadcast <- envelope{from: c, data: data}:
		case <-r.done:
			return
		}
		s.publish(r.name, c.id, data)
	}
}

// writePump writes queued messages and keeps the connection alive with
// pings. A closed send channel means the room dropped the client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

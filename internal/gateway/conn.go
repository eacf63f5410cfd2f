package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Conn is one participant's WebSocket connection. Inbound messages are
// handled on the connection's read goroutine, which is also the only
// place roomID is touched; outbound frames go through the buffered send
// channel drained by the write pump.
type Conn struct {
	ID     string
	UserID string

	ws      *websocket.Conn
	send    chan []byte
	manager *Manager

	// roomID is the room this connection is currently bound to, empty in
	// the lobby-less state before join_room. Read-pump goroutine only.
	roomID string

	connectedAt time.Time

	// sendMu guards send against the close/enqueue race between the
	// disconnect path and an in-flight broadcast.
	sendMu     sync.Mutex
	sendClosed bool
}

// enqueue offers a frame to the write pump. Frames for a closed
// connection are silently dropped; false means the buffer was full.
func (c *Conn) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel exactly once, terminating the write
// pump.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("write failed, dropping connection")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames off the wire and dispatches them. When the read
// loop ends, for any reason, the participant has left: the room is
// vacated and the rest of the room is told exactly once.
func (c *Conn) readPump() {
	defer func() {
		c.manager.handleDisconnect(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close")
			}
			return
		}
		c.manager.dispatch(c, message)
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

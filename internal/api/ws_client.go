package api

import (
	"github.com/gorilla/websocket"

	"github.com/alumnet/backend/internal/domain"
)

// Client is one live websocket connection bound to an authenticated user.
type Client struct {
	UserID string
	user   *domain.User
	conn   *websocket.Conn
	send   chan []byte
}

func newClient(user *domain.User, conn *websocket.Conn) *Client {
	return &Client{
		UserID: user.ID,
		user:   user,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
}

// trySend queues a frame without blocking; a slow client's frame is
// dropped and recovered later by a history fetch.
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readPump reads inbound envelopes and hands them to the gateway. It owns
// teardown: when the read loop exits for any reason the connection is
// unregistered and the peer's offline status is broadcast.
func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.disconnect(c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		g.handleEvent(c, data)
	}
}

// writePump drains the send channel into the connection, one envelope per
// frame. It exits when Unregister closes the channel.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

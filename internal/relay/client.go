package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound event size in bytes.
	maxEventSize = 8 << 10
	// Outbound queue per connection. When it fills, the connection is
	// considered dead and dropped rather than allowed to stall fan-out.
	sendQueueSize = 64
)

// Client is one live websocket connection. Its identity is empty until a
// join event authenticates it; after that the identity is trusted for the
// connection's lifetime.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	userID string
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// Deliver enqueues a payload for the connection's writer without blocking.
// It reports false when the connection is closed or its queue is full.
func (c *Client) Deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setIdentity(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// shutdown closes the outbound queue exactly once. The writer drains and
// then closes the socket.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// deliverEvent marshals and enqueues an event for this connection only.
func (c *Client) deliverEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = c.Deliver(payload)
}

// readPump consumes inbound events until the connection errors or closes,
// then unbinds the connection. It runs in its own goroutine per connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxEventSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.deliverEvent(errorEvent("malformed event"))
			continue
		}
		c.hub.handleEvent(c, ev)
	}
}

// writePump owns all writes to the socket: queued payloads plus liveness
// pings. One writer goroutine per connection keeps pushes to this
// connection in enqueue order and makes a slow socket this connection's
// problem alone.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

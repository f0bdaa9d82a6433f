package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one realtime connection. Events from the peer are handled one at
// a time in arrival order by readPump.
type Client struct {
	ID     string
	UserID string

	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	limiter *connLimiter

	// rooms is guarded by the hub's lock.
	rooms map[string]struct{}

	mu       sync.Mutex
	closed   bool
	kickOnce sync.Once
	kicked   bool
}

func newClient(g *Gateway, conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		limiter: newConnLimiter(),
		rooms:   make(map[string]struct{}),
	}
}

// enqueue queues frame without blocking. It reports false only when the
// queue is full.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Kick drops the connection; readPump then unregisters it.
func (c *Client) Kick() {
	c.kickOnce.Do(func() {
		c.mu.Lock()
		c.kicked = true
		c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) Kicked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kicked
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Error("unexpected_close", c.UserID, c.ID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.gateway.handle(ctx, c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 45 * time.Second
)

// wsClient is one connected WebSocket observer. Observers only receive
// events; anything they send is discarded.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		done: make(chan struct{}),
	}
}

// SendEvent queues an event frame. A slow client drops frames rather than
// blocking the broadcaster.
func (c *wsClient) SendEvent(event bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event marshal failed", "event", event.Name, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Debug("observer send buffer full, dropping event", "id", c.id, "event", event.Name)
	}
}

// Run pumps frames until the connection closes or ctx is done.
func (c *wsClient) Run(ctx context.Context) {
	go c.readPump()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains incoming frames to drive pong handling and detect close.
func (c *wsClient) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close shuts the connection down once.
func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

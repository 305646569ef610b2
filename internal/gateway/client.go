// Package gateway exposes wallet events to UI clients over WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletmesh/bridge/internal/wallet"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Client wraps a WebSocket connection receiving wallet events.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	// Event types the client asked for. Empty means everything.
	filter map[wallet.EventType]struct{}

	onClose func(id string)
}

// ClientConfig holds configuration for a gateway client.
type ClientConfig struct {
	ID             string
	Conn           *websocket.Conn
	SendBufferSize int
	OnClose        func(id string)
}

// NewClient creates a gateway client over an upgraded connection.
func NewClient(cfg ClientConfig) *Client {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}

	return &Client{
		id:      cfg.ID,
		conn:    cfg.Conn,
		send:    make(chan []byte, cfg.SendBufferSize),
		done:    make(chan struct{}),
		filter:  make(map[wallet.EventType]struct{}),
		onClose: cfg.OnClose,
	}
}

// ID returns the unique identifier for this client.
func (c *Client) ID() string {
	return c.id
}

// Send delivers a wallet event to the client. Full buffers drop the
// message rather than block the emitter.
func (c *Client) Send(ctx context.Context, ev wallet.Event) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("client closed")
	}
	if len(c.filter) > 0 {
		if _, ok := c.filter[ev.Type]; !ok {
			c.mu.RUnlock()
			return nil
		}
	}
	c.mu.RUnlock()

	msg, err := json.Marshal(ServerMessage{
		Type:      "event",
		Timestamp: time.Now().UTC(),
		Data:      ev,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	select {
	case c.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("client closed")
	default:
		return fmt.Errorf("send buffer full for client %s", c.id)
	}
}

// Close releases resources associated with the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	if c.onClose != nil {
		c.onClose(c.id)
	}

	return c.conn.Close()
}

// IsClosed returns whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Run starts the read and write pumps for the connection.
// This should be called in a goroutine after creating the client.
func (c *Client) Run(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		c.handleMessage(message)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Write queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// handleMessage processes an incoming WebSocket message.
func (c *Client) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "ping":
		c.sendControlMessage("pong", nil)
	case "subscribe":
		var req SubscribeRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.sendError("invalid subscribe request")
			return
		}
		c.mu.Lock()
		c.filter = make(map[wallet.EventType]struct{}, len(req.EventTypes))
		for _, t := range req.EventTypes {
			c.filter[t] = struct{}{}
		}
		c.mu.Unlock()
		c.sendControlMessage("subscribed", req)
	case "heartbeat":
		// Client heartbeat, connection is alive
	}
}

func (c *Client) sendControlMessage(msgType string, data interface{}) {
	msg := ServerMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if bytes, err := json.Marshal(msg); err == nil {
		select {
		case c.send <- bytes:
		default:
		}
	}
}

func (c *Client) sendError(text string) {
	msg := ServerMessage{
		Type:      "error",
		Timestamp: time.Now().UTC(),
		Error:     text,
	}
	if bytes, err := json.Marshal(msg); err == nil {
		select {
		case c.send <- bytes:
		default:
		}
	}
}

// ClientMessage represents an incoming message from a WebSocket client.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage represents an outgoing message to a WebSocket client.
type ServerMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// SubscribeRequest narrows the event types delivered to a client.
type SubscribeRequest struct {
	EventTypes []wallet.EventType `json:"event_types"`
}

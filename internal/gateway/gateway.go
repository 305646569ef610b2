package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Gateway manages WebSocket clients and fans wallet events out to them.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger

	upgrader websocket.Upgrader

	totalConnections int64
}

// NewGateway creates a gateway with an empty client set.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		clients: make(map[string]*Client),
		logger:  logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Attach subscribes the gateway to an emitter so every wallet event is
// broadcast to connected clients. Returns the unsubscribe function.
func (g *Gateway) Attach(em *wallet.Emitter) func() {
	return em.OnAny(func(ev wallet.Event) {
		g.broadcast(ev)
	})
}

// ServeHTTP upgrades the request and runs the client until it drops.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	client := NewClient(ClientConfig{
		ID:      clientID,
		Conn:    conn,
		OnClose: g.handleDisconnect,
	})

	g.mu.Lock()
	g.clients[clientID] = client
	g.totalConnections++
	g.mu.Unlock()

	g.logger.Info("client connected",
		"client_id", clientID,
		"remote_addr", conn.RemoteAddr().String(),
	)

	client.Run(r.Context())
}

// handleDisconnect cleans up when a client disconnects.
// Called from the client's Close, so cleanup runs in a separate
// goroutine to avoid deadlocks.
func (g *Gateway) handleDisconnect(clientID string) {
	go func() {
		g.mu.Lock()
		delete(g.clients, clientID)
		g.mu.Unlock()

		g.logger.Info("client disconnected", "client_id", clientID)
	}()
}

func (g *Gateway) broadcast(ev wallet.Event) {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		if !c.IsClosed() {
			clients = append(clients, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(context.Background(), ev); err != nil {
			g.logger.Debug("dropped event for client",
				"client_id", c.ID(),
				"event_type", ev.Type,
				"error", err,
			)
		}
	}
}

// ActiveCount returns the number of connected clients.
func (g *Gateway) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Close shuts down all client connections.
func (g *Gateway) Close() error {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*Client)
	g.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	return nil
}

// Package announce provides the NATS-backed wallet announcement bus:
// a broadcast request subject per chain family that listening wallets
// answer with announcement payloads.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/walletmesh/bridge/internal/discovery"
	"github.com/walletmesh/bridge/internal/wallet"
)

// Config holds NATS connection configuration.
type Config struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "walletmesh-bridge",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 10 * time.Second,
	}
}

func requestSubject(chain wallet.ChainType) string {
	return fmt.Sprintf("wallet.discovery.request.%s", chain)
}

func announceSubject(chain wallet.ChainType) string {
	return fmt.Sprintf("wallet.discovery.announce.%s", chain)
}

// Client wraps a NATS connection as the announcement bus.
type Client struct {
	nc     *nats.Conn
	logger *slog.Logger
}

var _ discovery.Bus = (*Client)(nil)

// Connect establishes the bus connection.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "announce-bus")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("bus reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{nc: nc, logger: logger}, nil
}

// SubscribeAnnouncements registers a handler for announcements of one
// chain family. Undecodable payloads are logged and dropped.
func (c *Client) SubscribeAnnouncements(ctx context.Context, chain wallet.ChainType, h func(discovery.Announcement)) (func(), error) {
	sub, err := c.nc.Subscribe(announceSubject(chain), func(msg *nats.Msg) {
		var a discovery.Announcement
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			c.logger.Warn("dropping undecodable announcement", "error", err)
			return
		}
		h(a)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe announcements: %w", err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe announcements", "error", err)
		}
	}, nil
}

// RequestAnnouncements broadcasts the discovery request event.
func (c *Client) RequestAnnouncements(ctx context.Context, chain wallet.ChainType) error {
	if err := c.nc.Publish(requestSubject(chain), nil); err != nil {
		return fmt.Errorf("publish discovery request: %w", err)
	}
	return c.nc.Flush()
}

// Announce publishes a wallet announcement. Used by in-process wallet
// responders answering discovery requests.
func (c *Client) Announce(ctx context.Context, a discovery.Announcement) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if err := c.nc.Publish(announceSubject(a.ChainType), data); err != nil {
		return fmt.Errorf("publish announcement: %w", err)
	}
	return nil
}

// OnRequest registers a responder for discovery requests of a chain
// family. The responder's announcement is published on every request.
func (c *Client) OnRequest(chain wallet.ChainType, a discovery.Announcement) (func(), error) {
	sub, err := c.nc.Subscribe(requestSubject(chain), func(msg *nats.Msg) {
		if err := c.Announce(context.Background(), a); err != nil {
			c.logger.Warn("failed to answer discovery request", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe discovery requests: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe requests", "error", err)
		}
	}, nil
}

// IsConnected reports whether the bus connection is live.
func (c *Client) IsConnected() bool {
	return c.nc.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

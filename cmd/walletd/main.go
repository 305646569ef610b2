package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/adapter/evm"
	"github.com/walletmesh/bridge/internal/adapter/solana"
	"github.com/walletmesh/bridge/internal/discovery"
	"github.com/walletmesh/bridge/internal/discovery/protocol"
	"github.com/walletmesh/bridge/internal/gateway"
	"github.com/walletmesh/bridge/internal/health"
	"github.com/walletmesh/bridge/internal/platform/announce"
	"github.com/walletmesh/bridge/internal/platform/storage"
	"github.com/walletmesh/bridge/internal/platform/stream"
	"github.com/walletmesh/bridge/internal/registry"
	"github.com/walletmesh/bridge/internal/session"
	"github.com/walletmesh/bridge/internal/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting walletd",
		"listen_addr", cfg.ListenAddr,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}

	logger.Info("walletd shutdown complete")
}

func run(cfg *Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewServer(cfg, logger)

	// Wallet directory, degraded static table when no endpoint is set.
	if cfg.Registry.Endpoint != "" {
		dir, err := registry.NewDirectory(cfg.Registry, logger)
		if err != nil {
			logger.Warn("wallet directory initialization failed, using built-in table", "error", err)
			server.directory = registry.NewStaticDirectory(logger)
		} else {
			server.directory = dir
		}
	} else {
		server.directory = registry.NewStaticDirectory(logger)
	}

	// Chain-family adapters, constructed through the factory registry.
	factories := adapter.NewRegistry()
	factories.Register(wallet.ChainTypeEVM, func(l *slog.Logger) adapter.Adapter {
		return evm.New(cfg.EVM, l)
	})
	factories.Register(wallet.ChainTypeSolana, func(l *slog.Logger) adapter.Adapter {
		return solana.New(cfg.Solana, nil, l)
	})
	for _, chain := range factories.Types() {
		a, err := factories.New(chain, logger)
		if err != nil {
			return fmt.Errorf("construct %s adapter: %w", chain, err)
		}
		server.adapters[chain] = a
	}

	// Announcement bus. Optional: discovery degrades to injection-point
	// probing without it.
	var bus *announce.Client
	if cfg.NATSEnabled {
		client, err := announce.Connect(cfg.NATS, logger)
		if err != nil {
			logger.Warn("announcement bus unavailable, discovery limited to injected probes", "error", err)
		} else {
			bus = client
			defer bus.Close()
		}
	}

	for chain, a := range server.adapters {
		var busIface discovery.Bus
		if bus != nil {
			busIface = bus
		}
		server.discovery[chain] = discovery.NewService(
			cfg.Discovery, chain, busIface, injectedProbe(a), logger,
		)
	}

	// Answer cross-process discovery requests for wallets this daemon
	// fronts, so peer processes can find them over the bus.
	if bus != nil {
		for chain, a := range server.adapters {
			if res := a.Detect(ctx); !res.Installed {
				continue
			}
			md := a.Metadata()
			unsub, err := bus.OnRequest(chain, discovery.Announcement{
				ID:        a.Name(),
				Name:      md.Name,
				Icon:      md.Icon,
				ChainType: chain,
				Endpoint:  "ws://" + cfg.ListenAddr + "/ws",
			})
			if err != nil {
				logger.Warn("failed to register discovery responder", "chain", chain, "error", err)
				continue
			}
			defer unsub()
		}
	}

	// Cross-process discovery protocol rides on the same bus.
	if bus != nil {
		initiator := announce.NewInitiator(bus, wallet.ChainTypeEVM, cfg.Discovery.Window)
		server.wrapper = protocol.NewWrapper(cfg.Protocol, initiator, &sessionConnector{server: server}, logger)
	}

	// Session store.
	store, err := session.NewRedisStore(cfg.Redis)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	// Connection history. Optional.
	var history session.History
	if cfg.PostgresEnabled {
		db, err := storage.New(ctx, cfg.Postgres)
		if err != nil {
			logger.Warn("connection history unavailable", "error", err)
		} else {
			defer db.Close()
			hs := storage.NewHistoryStore(db)
			if err := hs.EnsureSchema(ctx); err != nil {
				logger.Warn("connection history schema setup failed", "error", err)
			} else {
				history = hs
				server.history = hs
			}
		}
	}

	server.analyzer = health.NewAnalyzer(logger)
	server.sessions = session.NewService(
		cfg.Session,
		directoryResolver(server),
		store,
		server.analyzer,
		history,
		logger,
	)

	// WebSocket gateway fans out session and discovery events.
	server.gw = gateway.NewGateway(logger)
	defer server.gw.Close()
	unsubSessions := server.gw.Attach(server.sessions.Events())
	defer unsubSessions()
	if server.wrapper != nil {
		unsubWrapper := server.gw.Attach(server.wrapper.Events())
		defer unsubWrapper()
	}

	// Lifecycle audit stream. Optional.
	if len(cfg.Kafka.Addresses) > 0 {
		publisher, err := stream.NewPublisher(cfg.Kafka, logger)
		if err != nil {
			logger.Warn("lifecycle stream unavailable", "error", err)
		} else {
			defer publisher.Close()
			if err := publisher.EnsureTopic(ctx); err != nil {
				logger.Warn("lifecycle topic setup failed", "error", err)
			}
			defer publisher.Attach(server.sessions.Events())()
			if server.wrapper != nil {
				defer publisher.Attach(server.wrapper.Events())()
			}
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		cancel()
	}()

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// injectedProbe adapts an adapter's Detect into a discovery probe.
func injectedProbe(a adapter.Adapter) discovery.InjectedProbe {
	return func(ctx context.Context) (discovery.DiscoveredWallet, bool) {
		result := a.Detect(ctx)
		if !result.Installed {
			return discovery.DiscoveredWallet{}, false
		}
		return discovery.DiscoveredWallet{
			ID:       a.Name(),
			Name:     result.Metadata.Name,
			Icon:     result.Metadata.Icon,
			Method:   discovery.MethodInjected,
			Metadata: result.Metadata,
		}, true
	}
}

// directoryResolver maps a wallet ID onto the adapter serving its chain
// family, consulting the directory for unknown reverse-DNS IDs.
func directoryResolver(s *Server) session.AdapterResolver {
	return func(walletID string) (adapter.Adapter, error) {
		for _, a := range s.adapters {
			if a.Name() == walletID {
				return a, nil
			}
		}

		ctx, cancelLookup := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelLookup()

		if entry, ok := s.directory.Lookup(ctx, walletID); ok {
			if a, ok := s.adapters[entry.ChainType]; ok {
				return a, nil
			}
		}

		return nil, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, walletID)
	}
}

// sessionConnector finalizes protocol discovery handshakes through the
// session service.
type sessionConnector struct {
	server *Server
}

func (c *sessionConnector) Connect(ctx context.Context, responder protocol.Responder, req protocol.ConnectRequest) (protocol.ConnectResult, error) {
	var chainID string
	if len(req.RequestedChains) > 0 {
		chainID = req.RequestedChains[0]
	}

	result := c.server.sessions.Connect(ctx, session.ConnectOptions{
		WalletID: responder.ID,
		ChainID:  chainID,
	})
	if !result.Success {
		return protocol.ConnectResult{}, result.Err
	}
	return protocol.ConnectResult{ConnectionID: result.Session.ID}, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

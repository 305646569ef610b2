// Package solana provides the Solana wallet adapter over a
// wallet-standard-shaped handle.
package solana

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sdk "github.com/gagliardetto/solana-go"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/wallet"
)

// Config holds the Solana adapter configuration.
type Config struct {
	// DefaultCluster is used when a connect request does not name one.
	DefaultCluster string `yaml:"default_cluster"`
}

// clusterNames maps cluster IDs to display names.
var clusterNames = map[string]string{
	"mainnet-beta": "Solana Mainnet Beta",
	"devnet":       "Solana Devnet",
	"testnet":      "Solana Testnet",
}

// Adapter normalizes a Solana wallet handle into the uniform adapter
// contract. See the EVM adapter for the caching discipline; the cache
// key here is whether the handle's live public key is still readable.
type Adapter struct {
	cfg       Config
	logger    *slog.Logger
	events    *wallet.Emitter
	wellKnown WalletHandle

	mu        sync.Mutex
	handle    WalletHandle
	provider  *wallet.Provider
	transport wallet.Transport

	listeners *adapter.ListenerRegistry
}

var _ adapter.Adapter = (*Adapter)(nil)

// iconDataURI is the fallback icon used when the underlying handle does
// not carry its own branding. Announcements require a non-empty icon.
const iconDataURI = "data:image/svg+xml;utf8," +
	"<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 16 16'>" +
	"<circle cx='8' cy='8' r='8' fill='%239945FF'/></svg>"

// New creates a Solana adapter. wellKnown is the host-registered wallet
// handle (the injection-point analog); nil when none is present.
func New(cfg Config, wellKnown WalletHandle, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCluster == "" {
		cfg.DefaultCluster = "mainnet-beta"
	}
	return &Adapter{
		cfg:       cfg,
		logger:    logger.With("component", "solana-adapter"),
		events:    wallet.NewEmitter(),
		wellKnown: wellKnown,
		listeners: adapter.NewListenerRegistry(),
	}
}

func (a *Adapter) Name() string {
	return "solana"
}

func (a *Adapter) ChainType() wallet.ChainType {
	return wallet.ChainTypeSolana
}

func (a *Adapter) Metadata() wallet.Metadata {
	return wallet.Metadata{
		Name: "Solana Wallet",
		Icon: iconDataURI,
		Chains: []wallet.ChainSupport{
			{Type: wallet.ChainTypeSolana, ChainIDs: []string{"mainnet-beta", "devnet", "testnet"}},
		},
		Features: []wallet.Feature{
			wallet.FeatureSignMessage,
			wallet.FeatureSignTransaction,
		},
	}
}

func (a *Adapter) Events() *wallet.Emitter {
	return a.events
}

// SetHandle installs a discovered wallet handle, taking priority over
// the well-known one.
func (a *Adapter) SetHandle(handle any) error {
	h, ok := handle.(WalletHandle)
	if !ok {
		return fmt.Errorf("%w: Solana handle must expose connect and public key", wallet.ErrConfiguration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.handle = h
	a.provider = nil
	a.transport = nil
	return nil
}

// Detect probes for a usable handle without triggering approval. Never
// returns an error.
func (a *Adapter) Detect(ctx context.Context) wallet.DetectionResult {
	md := a.Metadata()

	handle := a.resolveHandle()
	if handle == nil {
		md.Error = "no Solana wallet handle available"
		return wallet.DetectionResult{Installed: false, Ready: false, Metadata: md}
	}

	pk, err := handle.PublicKey()
	if err != nil {
		md.Error = err.Error()
		return wallet.DetectionResult{Installed: true, Ready: false, Metadata: md}
	}

	return wallet.DetectionResult{
		Installed: true,
		Ready:     !pk.IsZero(),
		Metadata:  md,
	}
}

// Connect establishes a connection. A cached provider whose handle
// still reports a live public key short-circuits the wallet approval
// flow entirely.
func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (*wallet.Connection, error) {
	a.mu.Lock()
	provider := a.provider
	handle := a.handle
	a.mu.Unlock()

	if handle == nil {
		handle = a.wellKnown
	}

	if provider != nil && handle != nil {
		if pk, err := handle.PublicKey(); err == nil && !pk.IsZero() {
			cluster := opts.ChainID
			if cluster == "" {
				cluster = provider.ChainID()
			} else {
				provider.SetChainID(cluster)
			}
			provider.SetAccounts([]string{pk.String()})
			a.logger.Debug("reusing cached provider", "address", pk.String(), "cluster", cluster)
			return a.buildConnection(provider, pk, cluster), nil
		}
		a.invalidate("cached handle identity unreadable")
	}

	if handle == nil {
		return nil, fmt.Errorf("%w: no Solana wallet handle available", wallet.ErrWalletNotFound)
	}

	pk, err := handle.Connect(ctx)
	if err != nil {
		if wallet.IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", wallet.ErrUserRejected, err)
		}
		return nil, fmt.Errorf("%w: wallet connect: %v", wallet.ErrConnectionFailed, err)
	}
	if pk.IsZero() {
		return nil, fmt.Errorf("%w: wallet returned no public key", wallet.ErrConnectionFailed)
	}

	cluster := opts.ChainID
	if cluster == "" {
		cluster = a.cfg.DefaultCluster
	}

	tr := &transport{handle: handle}
	provider = wallet.NewProvider(tr, []string{pk.String()}, cluster)

	a.mu.Lock()
	a.handle = handle
	a.provider = provider
	a.transport = tr
	a.mu.Unlock()

	a.registerHandleListeners(handle, provider)

	a.logger.Info("wallet connected", "address", pk.String(), "cluster", cluster)
	return a.buildConnection(provider, pk, cluster), nil
}

// Disconnect tears down the connection. Native failures are logged, not
// returned. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()

	if handle != nil {
		if err := handle.Disconnect(ctx); err != nil {
			a.logger.Warn("native disconnect failed", "error", err)
		}
		a.listeners.Clear(handle, a.logger)
	}

	a.mu.Lock()
	a.handle = nil
	a.provider = nil
	a.transport = nil
	a.mu.Unlock()

	a.logger.Debug("adapter cleaned up")
	return nil
}

func (a *Adapter) resolveHandle() WalletHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil {
		return a.handle
	}
	return a.wellKnown
}

func (a *Adapter) registerHandleListeners(handle WalletHandle, provider *wallet.Provider) {
	source, ok := handle.(adapter.EventSource)
	if !ok {
		return
	}

	token := source.On("accountChanged", func(payload any) {
		address, _ := payload.(string)
		if address == "" {
			a.invalidate("wallet reported no account")
			a.events.Emit(wallet.Event{
				Type:     wallet.EventDisconnected,
				WalletID: a.Name(),
				Reason:   "accountChanged: no account",
			})
			return
		}
		provider.SetAccounts([]string{address})
		a.events.Emit(wallet.Event{
			Type:     wallet.EventAccountsChanged,
			WalletID: a.Name(),
			Data:     map[string]any{"accounts": []string{address}},
		})
	})
	a.listeners.Track("accountChanged", token)

	token = source.On("disconnect", func(payload any) {
		a.invalidate("wallet disconnected")
		a.events.Emit(wallet.Event{
			Type:     wallet.EventDisconnected,
			WalletID: a.Name(),
			Reason:   "wallet-initiated disconnect",
		})
	})
	a.listeners.Track("disconnect", token)
}

func (a *Adapter) invalidate(reason string) {
	a.mu.Lock()
	a.provider = nil
	a.transport = nil
	a.mu.Unlock()
	a.logger.Debug("provider cache invalidated", "reason", reason)
}

func (a *Adapter) buildConnection(provider *wallet.Provider, pk sdk.PublicKey, cluster string) *wallet.Connection {
	name := clusterNames[cluster]
	if name == "" {
		name = cluster
	}
	return &wallet.Connection{
		Address:   pk.String(),
		Accounts:  []string{pk.String()},
		ChainType: wallet.ChainTypeSolana,
		ChainID:   cluster,
		ChainName: name,
		Provider:  provider,
		Transport: provider.Transport(),
		Features:  a.Metadata().Features,
	}
}

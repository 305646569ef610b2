package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/wallet"
)

// Adapter normalizes an EVM wallet handle into the uniform adapter
// contract. The provider/transport pair built on a successful connect
// is cached and reused while the handle's identity stays readable, so
// repeated Connect calls do not re-trigger the wallet's approval flow.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
	events *wallet.Emitter

	mu         sync.Mutex
	handle     NativeProvider
	ownsHandle bool
	provider   *wallet.Provider
	transport  wallet.Transport

	listeners *adapter.ListenerRegistry
}

var _ adapter.Adapter = (*Adapter)(nil)

// iconDataURI is the fallback icon used when the underlying handle does
// not carry its own branding. Announcements require a non-empty icon.
const iconDataURI = "data:image/svg+xml;utf8," +
	"<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 16 16'>" +
	"<circle cx='8' cy='8' r='8' fill='%23627EEA'/></svg>"

// New creates an EVM adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "evm-adapter"),
		events:    wallet.NewEmitter(),
		listeners: adapter.NewListenerRegistry(),
	}
}

func (a *Adapter) Name() string {
	return "evm"
}

func (a *Adapter) ChainType() wallet.ChainType {
	return wallet.ChainTypeEVM
}

func (a *Adapter) Metadata() wallet.Metadata {
	return wallet.Metadata{
		Name: "EVM Wallet",
		Icon: iconDataURI,
		Chains: []wallet.ChainSupport{
			{Type: wallet.ChainTypeEVM, Wildcard: true},
		},
		Features: []wallet.Feature{
			wallet.FeatureSignMessage,
			wallet.FeatureSignTransaction,
			wallet.FeatureMultiAccount,
		},
	}
}

func (a *Adapter) Events() *wallet.Emitter {
	return a.events
}

// SetHandle installs a discovered wallet handle. It takes priority over
// the configured endpoints and invalidates any cached provider.
func (a *Adapter) SetHandle(handle any) error {
	h, ok := handle.(NativeProvider)
	if !ok {
		return fmt.Errorf("%w: EVM handle must expose a request method", wallet.ErrConfiguration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeOwnedHandleLocked()
	a.handle = h
	a.ownsHandle = false
	a.provider = nil
	a.transport = nil
	return nil
}

// Detect probes for a usable handle. It never returns an error: any
// failure degrades to a not-installed result carrying the detail.
func (a *Adapter) Detect(ctx context.Context) wallet.DetectionResult {
	md := a.Metadata()

	handle, err := a.resolveHandle(ctx)
	if err != nil {
		md.Error = err.Error()
		return wallet.DetectionResult{Installed: false, Ready: false, Metadata: md}
	}

	accounts, err := readAccounts(ctx, handle)
	if err != nil {
		md.Error = err.Error()
		return wallet.DetectionResult{Installed: true, Ready: false, Metadata: md}
	}

	return wallet.DetectionResult{
		Installed: true,
		Ready:     len(accounts) > 0,
		Metadata:  md,
	}
}

// Connect establishes a connection, short-circuiting to the cached
// provider when the handle's identity is still readable.
func (a *Adapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (*wallet.Connection, error) {
	a.mu.Lock()
	provider := a.provider
	handle := a.handle
	a.mu.Unlock()

	if provider != nil && handle != nil {
		if accounts, err := readAccounts(ctx, handle); err == nil && len(accounts) > 0 {
			chainID := opts.ChainID
			if chainID == "" {
				chainID = provider.ChainID()
			} else {
				provider.SetChainID(chainID)
			}
			provider.SetAccounts(accounts)
			a.logger.Debug("reusing cached provider", "address", accounts[0], "chain_id", chainID)
			return a.buildConnection(provider, accounts, chainID), nil
		}
		a.invalidate("cached handle identity unreadable")
	}

	handle, err := a.resolveHandle(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := requestAccounts(ctx, handle)
	if err != nil {
		if wallet.IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", wallet.ErrUserRejected, err)
		}
		return nil, fmt.Errorf("%w: request accounts: %v", wallet.ErrConnectionFailed, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: wallet returned no accounts", wallet.ErrConnectionFailed)
	}

	chainID := opts.ChainID
	if chainID == "" {
		chainID = a.readChainID(ctx, handle)
	}

	tr := &transport{handle: handle}
	provider = wallet.NewProvider(tr, accounts, chainID)

	a.mu.Lock()
	a.provider = provider
	a.transport = tr
	a.mu.Unlock()

	a.registerHandleListeners(handle, provider)

	a.logger.Info("wallet connected", "address", accounts[0], "chain_id", chainID)
	return a.buildConnection(provider, accounts, chainID), nil
}

// Disconnect tears down the connection. Native failures are logged, not
// returned; local cleanup runs unconditionally. Safe to call twice.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()

	if handle != nil {
		if d, ok := handle.(interface{ Disconnect(context.Context) error }); ok {
			if err := d.Disconnect(ctx); err != nil {
				a.logger.Warn("native disconnect failed", "error", err)
			}
		}
		a.listeners.Clear(handle, a.logger)
	}

	a.mu.Lock()
	a.closeOwnedHandleLocked()
	a.handle = nil
	a.ownsHandle = false
	a.provider = nil
	a.transport = nil
	a.mu.Unlock()

	a.logger.Debug("adapter cleaned up")
	return nil
}

// resolveHandle returns the installed handle, dialing the configured
// endpoints in order when none is present.
func (a *Adapter) resolveHandle(ctx context.Context) (NativeProvider, error) {
	a.mu.Lock()
	if a.handle != nil {
		h := a.handle
		a.mu.Unlock()
		return h, nil
	}
	a.mu.Unlock()

	for _, url := range a.cfg.Endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
		h, err := dialHandle(dialCtx, url)
		cancel()
		if err != nil {
			a.logger.Warn("signer endpoint unreachable", "url", url, "error", err)
			continue
		}

		a.mu.Lock()
		a.handle = h
		a.ownsHandle = true
		a.mu.Unlock()
		return h, nil
	}

	return nil, fmt.Errorf("%w: no EVM wallet handle available", wallet.ErrWalletNotFound)
}

func (a *Adapter) registerHandleListeners(handle NativeProvider, provider *wallet.Provider) {
	source, ok := handle.(adapter.EventSource)
	if !ok {
		return
	}

	token := source.On("accountsChanged", func(payload any) {
		accounts := toStringSlice(payload)
		if len(accounts) == 0 {
			a.invalidate("wallet reported no accounts")
			a.events.Emit(wallet.Event{
				Type:     wallet.EventDisconnected,
				WalletID: a.Name(),
				Reason:   "accountsChanged: no accounts",
			})
			return
		}
		provider.SetAccounts(accounts)
		a.events.Emit(wallet.Event{
			Type:     wallet.EventAccountsChanged,
			WalletID: a.Name(),
			Data:     map[string]any{"accounts": accounts},
		})
	})
	a.listeners.Track("accountsChanged", token)

	token = source.On("chainChanged", func(payload any) {
		chainID, _ := payload.(string)
		if chainID == "" {
			return
		}
		provider.SetChainID(chainID)
		a.events.Emit(wallet.Event{
			Type:     wallet.EventChainChanged,
			WalletID: a.Name(),
			Data:     map[string]any{"chain_id": chainID},
		})
	})
	a.listeners.Track("chainChanged", token)

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

// invalidate drops the cached provider/transport pair.
func (a *Adapter) invalidate(reason string) {
	a.mu.Lock()
	a.provider = nil
	a.transport = nil
	a.mu.Unlock()
	a.logger.Debug("provider cache invalidated", "reason", reason)
}

func (a *Adapter) closeOwnedHandleLocked() {
	if a.ownsHandle {
		if closer, ok := a.handle.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

func (a *Adapter) readChainID(ctx context.Context, handle NativeProvider) string {
	raw, err := handle.Request(ctx, "eth_chainId")
	if err != nil {
		return a.cfg.DefaultChainID
	}
	var chainID string
	if err := json.Unmarshal(raw, &chainID); err != nil || chainID == "" {
		return a.cfg.DefaultChainID
	}
	return chainID
}

func (a *Adapter) buildConnection(provider *wallet.Provider, accounts []string, chainID string) *wallet.Connection {
	return &wallet.Connection{
		Address:   accounts[0],
		Accounts:  accounts,
		ChainType: wallet.ChainTypeEVM,
		ChainID:   chainID,
		ChainName: chainName(chainID),
		Provider:  provider,
		Transport: provider.Transport(),
		Features:  a.Metadata().Features,
	}
}

func readAccounts(ctx context.Context, handle NativeProvider) ([]string, error) {
	raw, err := handle.Request(ctx, "eth_accounts")
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

func requestAccounts(ctx context.Context, handle NativeProvider) ([]string, error) {
	raw, err := handle.Request(ctx, "eth_requestAccounts")
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

func toStringSlice(payload any) []string {
	switch v := payload.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

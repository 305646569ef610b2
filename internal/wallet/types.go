// Package wallet defines the shared types for normalized wallet
// connections: chain families, capability metadata, the provider/transport
// pairing, and the event surface adapters emit on.
package wallet

import (
	"context"
	"encoding/json"
	"sync"
)

// ChainType identifies a chain family, not an individual network.
type ChainType string

const (
	ChainTypeEVM    ChainType = "evm"
	ChainTypeSolana ChainType = "solana"
	ChainTypeAztec  ChainType = "aztec"
)

// Feature is a capability flag advertised in adapter metadata.
type Feature string

const (
	FeatureSignMessage     Feature = "sign_message"
	FeatureSignTransaction Feature = "sign_transaction"
	FeatureMultiAccount    Feature = "multi_account"
	FeatureHardwareWallet  Feature = "hardware_wallet"
)

// ChainSupport describes which networks of a chain family a wallet
// supports: either an explicit set of chain IDs or a wildcard.
type ChainSupport struct {
	Type     ChainType `json:"type"`
	ChainIDs []string  `json:"chain_ids,omitempty"`
	Wildcard bool      `json:"wildcard,omitempty"`
}

// Supports reports whether the given chain ID is covered.
func (c ChainSupport) Supports(chainID string) bool {
	if c.Wildcard {
		return true
	}
	for _, id := range c.ChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}

// Metadata is the static, immutable description of a wallet family.
// Created once at adapter registration and never mutated.
type Metadata struct {
	Name     string         `json:"name"`
	Icon     string         `json:"icon,omitempty"`
	Chains   []ChainSupport `json:"chains,omitempty"`
	Features []Feature      `json:"features,omitempty"`

	// Error carries the detection failure detail when a probe degraded
	// to "not available". Empty on healthy metadata.
	Error string `json:"error,omitempty"`
}

// HasFeature reports whether the flag is present.
func (m Metadata) HasFeature(f Feature) bool {
	for _, have := range m.Features {
		if have == f {
			return true
		}
	}
	return false
}

// DetectionResult is the outcome of a non-throwing adapter probe.
type DetectionResult struct {
	Installed bool
	Ready     bool
	Metadata  Metadata
}

// Transport maps chain-family-specific RPC-like calls onto the native
// wallet handle's methods. Implementations return ErrConfiguration for
// methods the underlying handle cannot serve.
type Transport interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Provider wraps a Transport together with the identity it was built
// around. Adapters update the identity in place when the underlying
// wallet reports account changes, so a cached provider stays current
// without being rebuilt.
type Provider struct {
	transport Transport

	mu       sync.RWMutex
	accounts []string
	chainID  string
}

// NewProvider builds a provider around a transport and initial identity.
func NewProvider(t Transport, accounts []string, chainID string) *Provider {
	return &Provider{
		transport: t,
		accounts:  append([]string(nil), accounts...),
		chainID:   chainID,
	}
}

// Request forwards to the underlying transport.
func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return p.transport.Request(ctx, method, params...)
}

// Transport returns the underlying transport.
func (p *Provider) Transport() Transport {
	return p.transport
}

// Accounts returns a copy of the current identity.
func (p *Provider) Accounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.accounts...)
}

// Address returns the primary account, or empty when disconnected.
func (p *Provider) Address() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.accounts) == 0 {
		return ""
	}
	return p.accounts[0]
}

// ChainID returns the chain the provider was built for.
func (p *Provider) ChainID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chainID
}

// SetAccounts replaces the identity. Called by adapter event listeners
// when the wallet reports an account switch.
func (p *Provider) SetAccounts(accounts []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append([]string(nil), accounts...)
}

// SetChainID replaces the chain. Called on wallet-initiated chain switches.
func (p *Provider) SetChainID(chainID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainID = chainID
}

// Connection is a normalized, established wallet connection.
// Invariant: a non-empty Address is always Accounts[0].
type Connection struct {
	Address   string
	Accounts  []string
	ChainType ChainType
	ChainID   string
	ChainName string
	Provider  *Provider
	Transport Transport
	Features  []Feature
}

// Package adapter defines the uniform contract chain-family wallet
// adapters implement, plus the factory registry used to construct them.
package adapter

import (
	"context"

	"github.com/walletmesh/bridge/internal/wallet"
)

// ConnectOptions tunes a single connect attempt.
type ConnectOptions struct {
	// ChainID requests a specific network. Empty means the adapter's
	// default, or whatever the cached provider was built for.
	ChainID string
}

// Adapter normalizes a chain-specific wallet provider into a uniform
// detect/connect/disconnect contract. Implementations exist per chain
// family (EVM, Solana) and emit blockchain-native events through the
// shared emitter returned by Events.
//
// Callers invoke Connect/Disconnect sequentially on one instance; the
// session service enforces at-most-one-in-flight per slot.
type Adapter interface {
	Name() string

	ChainType() wallet.ChainType

	// Metadata returns the static capability description.
	Metadata() wallet.Metadata

	// Detect probes for a usable wallet handle. It never returns an
	// error: all failures degrade to a not-installed result carrying
	// the failure detail in Metadata.Error.
	Detect(ctx context.Context) wallet.DetectionResult

	// Connect establishes (or short-circuits to a cached) connection.
	// Fails with wallet.ErrWalletNotFound, wallet.ErrConnectionFailed,
	// or wallet.ErrUserRejected.
	Connect(ctx context.Context, opts ConnectOptions) (*wallet.Connection, error)

	// Disconnect tears down the connection. Native-handle failures are
	// logged, not returned; local cleanup always runs. Idempotent.
	Disconnect(ctx context.Context) error

	// SetHandle installs an externally discovered wallet handle, taking
	// priority over the well-known injection points during Detect and
	// Connect. A handle of the wrong shape fails with
	// wallet.ErrConfiguration.
	SetHandle(handle any) error

	// Events is the surface wallet-initiated changes arrive on:
	// accountsChanged, chainChanged, disconnected.
	Events() *wallet.Emitter
}

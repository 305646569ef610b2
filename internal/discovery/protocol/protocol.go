// Package protocol wraps a promise-style cross-process discovery
// initiator with event emission, a bounded timeout, and progress
// reporting, and hands chosen wallets to a connection manager.
package protocol

import "context"

// Responder is a wallet discovered via the cross-process discovery
// protocol that matched the requested capability criteria.
type Responder struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Icon   string   `json:"icon,omitempty"`
	Chains []string `json:"chains,omitempty"`
}

// Initiator is the underlying discovery handshake. The wrapper treats
// it as an opaque black box with this async contract.
type Initiator interface {
	StartDiscovery(ctx context.Context) ([]Responder, error)
	StopDiscovery(ctx context.Context) error
	IsDiscovering() bool
}

// PartialReporter is implemented by initiators that expose incremental
// results while a round is still in flight. The wrapper uses it to
// emit wallet_found events as responders qualify and to preserve
// partial results across a timeout.
type PartialReporter interface {
	Responders() []Responder
}

// ConnectRequest carries the chains and permissions asked of a wallet
// when finalizing a session.
type ConnectRequest struct {
	RequestedChains      []string
	RequestedPermissions []string
}

// ConnectResult is the connection manager's successful outcome.
type ConnectResult struct {
	ConnectionID string
}

// ConnectionManager finalizes a session with a discovered wallet.
type ConnectionManager interface {
	Connect(ctx context.Context, responder Responder, req ConnectRequest) (ConnectResult, error)
}

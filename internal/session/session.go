// Package session owns the connect/disconnect/reconnect state machine,
// the persisted session records, and the retry, backoff, and
// disconnect-safety policies around them.
package session

import (
	"context"
	"errors"
	"time"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"

	// Adapter-local refinements of Connected.
	StatusSwitching    Status = "switching"
	StatusReconnecting Status = "reconnecting"
)

// Metadata travels with a session record and survives a
// session-preserving disconnect.
type Metadata struct {
	ChainName string `json:"chain_name,omitempty"`

	// PendingTransactions holds identifiers of in-flight transactions.
	// A non-empty list blocks disconnection unless forced.
	PendingTransactions []string `json:"pending_transactions,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Session is the persisted record of an established wallet connection,
// tracked independently of the live provider object.
type Session struct {
	ID             string    `json:"id"`
	WalletID       string    `json:"wallet_id"`
	Status         Status    `json:"status"`
	Account        string    `json:"account"`
	ChainID        string    `json:"chain_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Metadata       Metadata  `json:"metadata"`
}

// Touch updates the activity timestamp.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// ErrNotFound is returned by stores when no session matches.
var ErrNotFound = errors.New("session not found")

// Store persists session records. Session records are exclusively
// owned by the service; reads of the active session are always direct
// lookups, never snapshots carried across suspension points.
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByWallet(ctx context.Context, walletID string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Delete(ctx context.Context, id string) error
}

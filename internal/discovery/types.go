// Package discovery enumerates wallets available to the current
// environment, either via the announcement bus (broadcast request,
// collect announcements within a bounded window) or by probing the
// well-known injection points directly.
package discovery

import (
	"fmt"
	"time"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Method records how a wallet was discovered.
type Method string

const (
	MethodAnnouncement Method = "announcement"
	MethodInjected     Method = "injected"
)

// Announcement is the payload a wallet broadcasts in response to a
// discovery request.
type Announcement struct {
	// ID is the wallet's stable reverse-DNS identifier.
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`

	ChainType wallet.ChainType `json:"chain_type"`

	// Endpoint is the transport descriptor the announced provider is
	// reachable at. An announcement without a usable request surface is
	// malformed.
	Endpoint string `json:"endpoint"`

	// Flags carries the wallet's brand/capability booleans.
	Flags map[string]bool `json:"flags,omitempty"`
}

// validate checks the announcement shape. Malformed announcements are
// logged and discarded by the service, never surfaced as errors.
func (a Announcement) validate() error {
	if a.ID == "" {
		return fmt.Errorf("missing stable identifier")
	}
	if a.Name == "" {
		return fmt.Errorf("missing display name")
	}
	if a.Icon == "" {
		return fmt.Errorf("missing icon")
	}
	if a.Endpoint == "" {
		return fmt.Errorf("provider exposes no request surface")
	}
	return nil
}

// DiscoveredWallet is one wallet found during a discovery round. It is
// ephemeral: held for the round and any immediately following connect
// attempt, never persisted.
type DiscoveredWallet struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Icon     string          `json:"icon,omitempty"`
	Method   Method          `json:"method"`
	Endpoint string          `json:"endpoint,omitempty"`
	Handle   any             `json:"-"`
	Metadata wallet.Metadata `json:"metadata"`
}

// Results groups one discovery round's findings by method.
type Results struct {
	Announced []DiscoveredWallet
	Injected  *DiscoveredWallet
	Duration  time.Duration
}

// AllWallets flattens the per-method lists into one ordered sequence:
// announcement wallets first in first-seen order, then the injected
// wallet if present.
func (r *Results) AllWallets() []DiscoveredWallet {
	if r == nil {
		return nil
	}
	out := make([]DiscoveredWallet, 0, len(r.Announced)+1)
	out = append(out, r.Announced...)
	if r.Injected != nil {
		out = append(out, *r.Injected)
	}
	return out
}

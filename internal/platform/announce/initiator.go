package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/walletmesh/bridge/internal/discovery"
	"github.com/walletmesh/bridge/internal/discovery/protocol"
	"github.com/walletmesh/bridge/internal/wallet"
)

// Initiator implements the cross-process discovery handshake over the
// announcement bus: broadcast a request, collect qualifying responders
// until the window closes or the round is stopped. It exposes partial
// results while a round is in flight.
type Initiator struct {
	client *Client
	chain  wallet.ChainType
	window time.Duration

	mu          sync.Mutex
	discovering bool
	stop        chan struct{}
	partial     []protocol.Responder
	seen        map[string]struct{}
}

var (
	_ protocol.Initiator       = (*Initiator)(nil)
	_ protocol.PartialReporter = (*Initiator)(nil)
)

// NewInitiator creates an initiator for one chain family.
func NewInitiator(client *Client, chain wallet.ChainType, window time.Duration) *Initiator {
	if window == 0 {
		window = 4 * time.Second
	}
	return &Initiator{
		client: client,
		chain:  chain,
		window: window,
	}
}

// StartDiscovery runs one collection round and returns the qualified
// responders.
func (i *Initiator) StartDiscovery(ctx context.Context) ([]protocol.Responder, error) {
	i.mu.Lock()
	if i.discovering {
		i.mu.Unlock()
		return nil, fmt.Errorf("discovery already in progress")
	}
	i.discovering = true
	i.stop = make(chan struct{})
	i.partial = nil
	i.seen = make(map[string]struct{})
	stop := i.stop
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.discovering = false
		i.mu.Unlock()
	}()

	unsubscribe, err := i.client.SubscribeAnnouncements(ctx, i.chain, func(a discovery.Announcement) {
		i.mu.Lock()
		defer i.mu.Unlock()
		if _, dup := i.seen[a.ID]; dup || a.ID == "" {
			return
		}
		i.seen[a.ID] = struct{}{}
		i.partial = append(i.partial, protocol.Responder{
			ID:   a.ID,
			Name: a.Name,
			Icon: a.Icon,
		})
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	if err := i.client.RequestAnnouncements(ctx, i.chain); err != nil {
		return nil, err
	}

	timer := time.NewTimer(i.window)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stop:
	case <-ctx.Done():
		return i.Responders(), ctx.Err()
	}

	return i.Responders(), nil
}

// StopDiscovery ends the round early. Results collected so far remain
// available.
func (i *Initiator) StopDiscovery(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.discovering {
		return nil
	}
	select {
	case <-i.stop:
	default:
		close(i.stop)
	}
	return nil
}

// IsDiscovering reports whether a round is in flight.
func (i *Initiator) IsDiscovering() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.discovering
}

// Responders returns the responders collected so far.
func (i *Initiator) Responders() []protocol.Responder {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]protocol.Responder(nil), i.partial...)
}

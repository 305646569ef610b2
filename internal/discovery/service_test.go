package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/walletmesh/bridge/internal/wallet"
)

// fakeBus replays scripted announcements when a request is broadcast.
type fakeBus struct {
	announcements []Announcement
	subscribeErr  error

	handler      func(Announcement)
	unsubscribed bool
}

func (b *fakeBus) SubscribeAnnouncements(ctx context.Context, chain wallet.ChainType, h func(Announcement)) (func(), error) {
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.handler = h
	return func() { b.unsubscribed = true }, nil
}

func (b *fakeBus) RequestAnnouncements(ctx context.Context, chain wallet.ChainType) error {
	for _, a := range b.announcements {
		b.handler(a)
	}
	return nil
}

func validAnnouncement(id string) Announcement {
	return Announcement{
		ID:        id,
		Name:      "Wallet " + id,
		Icon:      "data:image/png;base64,x",
		ChainType: wallet.ChainTypeEVM,
		Endpoint:  "nats://wallet." + id,
	}
}

func testConfig() Config {
	return Config{
		Enabled:             true,
		Window:              20 * time.Millisecond,
		PreferAnnouncements: true,
	}
}

func TestDiscoverDisabledReturnsEmpty(t *testing.T) {
	bus := &fakeBus{announcements: []Announcement{validAnnouncement("io.metamask")}}
	svc := NewService(Config{Enabled: false}, wallet.ChainTypeEVM, bus, nil, nil)

	results, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(results.AllWallets()) != 0 {
		t.Errorf("expected no wallets, got %d", len(results.AllWallets()))
	}
}

func TestDiscoverNoSourcesReturnsEmpty(t *testing.T) {
	svc := NewService(testConfig(), wallet.ChainTypeEVM, nil, nil, nil)

	results, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(results.AllWallets()) != 0 {
		t.Errorf("expected no wallets, got %d", len(results.AllWallets()))
	}
}

func TestDiscoverDeduplicatesByID(t *testing.T) {
	bus := &fakeBus{announcements: []Announcement{
		validAnnouncement("io.metamask"),
		validAnnouncement("io.rabby"),
		validAnnouncement("io.metamask"),
	}}
	svc := NewService(testConfig(), wallet.ChainTypeEVM, bus, nil, nil)

	results, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	wallets := results.AllWallets()
	if len(wallets) != 2 {
		t.Fatalf("expected 2 unique wallets, got %d", len(wallets))
	}
	// First-seen order.
	if wallets[0].ID != "io.metamask" || wallets[1].ID != "io.rabby" {
		t.Errorf("wrong order: %s, %s", wallets[0].ID, wallets[1].ID)
	}
	if !bus.unsubscribed {
		t.Error("expected subscription cleanup after the window")
	}
}

func TestDiscoverDiscardsMalformedAnnouncements(t *testing.T) {
	missing := validAnnouncement("io.broken")
	missing.Endpoint = ""

	bus := &fakeBus{announcements: []Announcement{
		missing,
		{Name: "No ID", Icon: "x", Endpoint: "e"},
		validAnnouncement("io.ok"),
	}}
	svc := NewService(testConfig(), wallet.ChainTypeEVM, bus, nil, nil)

	results, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	wallets := results.AllWallets()
	if len(wallets) != 1 {
		t.Fatalf("expected 1 wallet, got %d", len(wallets))
	}
	if wallets[0].ID != "io.ok" {
		t.Errorf("unexpected wallet %s", wallets[0].ID)
	}
}

func TestDiscoverFallsBackToInjectedProbe(t *testing.T) {
	bus := &fakeBus{}
	probe := func(ctx context.Context) (DiscoveredWallet, bool) {
		return DiscoveredWallet{ID: "evm", Name: "Injected", Method: MethodInjected}, true
	}
	svc := NewService(testConfig(), wallet.ChainTypeEVM, bus, probe, nil)

	results, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if results.Injected == nil {
		t.Fatal("expected injected wallet after empty announcement window")
	}
	if results.Injected.Method != MethodInjected {
		t.Errorf("unexpected method %s", results.Injected.Method)
	}
}

func TestDiscoverPrefersAnnouncementsOverProbe(t *testing.T) {
	bus := &fakeBus{announcements: []Announcement{validAnnouncement("io.metamask")}}
	probeCalled := false
	probe := func(ctx context.Context) (DiscoveredWallet, bool) {
		probeCalled = true
		return DiscoveredWallet{ID: "evm", Method: MethodInjected}, true
	}
	svc := NewService(testConfig(), wallet.ChainTypeEVM, bus, probe, nil)

	results, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if probeCalled {
		t.Error("probe must not run when announcements were found")
	}
	if results.Injected != nil {
		t.Error("unexpected injected wallet")
	}
}

func TestDiscoverOutcomeStates(t *testing.T) {
	svc := NewService(testConfig(), wallet.ChainTypeEVM, &fakeBus{}, nil, nil)

	if _, err := svc.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if svc.LastOutcome() != StateTimedOut {
		t.Errorf("expected timed_out for empty round, got %s", svc.LastOutcome())
	}
	if svc.State() != StateIdle {
		t.Errorf("expected idle after round, got %s", svc.State())
	}

	bus := &fakeBus{announcements: []Announcement{validAnnouncement("io.metamask")}}
	svc = NewService(testConfig(), wallet.ChainTypeEVM, bus, nil, nil)

	if _, err := svc.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if svc.LastOutcome() != StateCompleted {
		t.Errorf("expected completed, got %s", svc.LastOutcome())
	}
}

func TestAllWalletsOrdersAnnouncedFirst(t *testing.T) {
	results := &Results{
		Announced: []DiscoveredWallet{
			{ID: "io.metamask", Method: MethodAnnouncement},
			{ID: "io.rabby", Method: MethodAnnouncement},
		},
		Injected: &DiscoveredWallet{ID: "evm", Method: MethodInjected},
	}

	all := results.AllWallets()
	if len(all) != 3 {
		t.Fatalf("expected 3 wallets, got %d", len(all))
	}
	if all[2].Method != MethodInjected {
		t.Error("injected wallet must come last")
	}
}

func TestIdentifyBrand(t *testing.T) {
	tests := []struct {
		name  string
		flags map[string]bool
		want  string
	}{
		{"metamask", map[string]bool{"isMetaMask": true}, "MetaMask"},
		{"rabby masquerading as metamask", map[string]bool{"isMetaMask": true, "isRabby": true}, "Rabby"},
		{"brave", map[string]bool{"isMetaMask": true, "isBraveWallet": true}, "Brave Wallet"},
		{"unknown", map[string]bool{}, UnknownEVMBrand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentifyBrand(tt.flags, DefaultEVMBrands, UnknownEVMBrand)
			if got != tt.want {
				t.Errorf("IdentifyBrand(%v) = %q, want %q", tt.flags, got, tt.want)
			}
		})
	}
}

package solana

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	sdk "github.com/gagliardetto/solana-go"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/wallet"
)

// fakeHandle is a scriptable wallet-standard handle.
type fakeHandle struct {
	mu sync.Mutex

	pk         sdk.PublicKey
	connectErr error
	pkErr      error

	connectCalls    int
	disconnectCalls int

	nextToken int
	handlers  map[string]map[int]func(any)
}

func newFakeHandle(pk sdk.PublicKey) *fakeHandle {
	return &fakeHandle{
		pk:       pk,
		handlers: make(map[string]map[int]func(any)),
	}
}

func (f *fakeHandle) Connect(ctx context.Context) (sdk.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return sdk.PublicKey{}, f.connectErr
	}
	return f.pk, nil
}

func (f *fakeHandle) PublicKey() (sdk.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pkErr != nil {
		return sdk.PublicKey{}, f.pkErr
	}
	if f.connectCalls == 0 {
		// No session yet.
		return sdk.PublicKey{}, nil
	}
	return f.pk, nil
}

func (f *fakeHandle) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return nil
}

func (f *fakeHandle) On(event string, handler func(payload any)) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextToken++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]func(any))
	}
	f.handlers[event][f.nextToken] = handler
	return f.nextToken
}

func (f *fakeHandle) RemoveListener(event string, token int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[event], token)
}

func (f *fakeHandle) fire(event string, payload any) {
	f.mu.Lock()
	handlers := make([]func(any), 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (f *fakeHandle) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func testKey(t *testing.T) sdk.PublicKey {
	t.Helper()
	return sdk.NewWallet().PublicKey()
}

func TestConnectEndToEndDevnet(t *testing.T) {
	pk := testKey(t)
	handle := newFakeHandle(pk)
	a := New(Config{}, handle, nil)

	conn, err := a.Connect(context.Background(), adapter.ConnectOptions{ChainID: "devnet"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if conn.Address != pk.String() {
		t.Errorf("expected address %s, got %s", pk.String(), conn.Address)
	}
	if conn.ChainID != "devnet" {
		t.Errorf("expected cluster devnet, got %s", conn.ChainID)
	}
	if conn.ChainName != "Solana Devnet" {
		t.Errorf("expected chain name 'Solana Devnet', got %q", conn.ChainName)
	}
	if conn.Accounts[0] != conn.Address {
		t.Error("primary account must equal address")
	}

	raw, err := conn.Transport.Request(context.Background(), "getAccount")
	if err != nil {
		t.Fatalf("getAccount: %v", err)
	}
	var addr string
	if err := json.Unmarshal(raw, &addr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if addr != pk.String() {
		t.Errorf("transport returned %s, want %s", addr, pk.String())
	}
}

func TestConnectDefaultsToMainnet(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	a := New(Config{}, handle, nil)

	conn, err := a.Connect(context.Background(), adapter.ConnectOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if conn.ChainID != "mainnet-beta" {
		t.Errorf("expected default cluster mainnet-beta, got %s", conn.ChainID)
	}
}

func TestConnectReusesCachedProvider(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	a := New(Config{}, handle, nil)

	if _, err := a.Connect(context.Background(), adapter.ConnectOptions{}); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if _, err := a.Connect(context.Background(), adapter.ConnectOptions{}); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if handle.connectCalls != 1 {
		t.Errorf("expected 1 approval flow, got %d", handle.connectCalls)
	}
}

func TestConnectNoHandle(t *testing.T) {
	a := New(Config{}, nil, nil)

	_, err := a.Connect(context.Background(), adapter.ConnectOptions{})
	if !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestConnectZeroKeyFails(t *testing.T) {
	handle := newFakeHandle(sdk.PublicKey{})
	a := New(Config{}, handle, nil)

	_, err := a.Connect(context.Background(), adapter.ConnectOptions{})
	if !errors.Is(err, wallet.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestConnectUserRejection(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	handle.connectErr = errors.New("Transaction was rejected by user")
	a := New(Config{}, handle, nil)

	_, err := a.Connect(context.Background(), adapter.ConnectOptions{})
	if !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
}

func TestDetectNeverErrors(t *testing.T) {
	a := New(Config{}, nil, nil)

	result := a.Detect(context.Background())
	if result.Installed {
		t.Error("expected not installed without a handle")
	}
	if result.Metadata.Error == "" {
		t.Error("expected detection failure detail in metadata")
	}
}

func TestDetectInstalledNotReady(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	a := New(Config{}, handle, nil)

	result := a.Detect(context.Background())
	if !result.Installed {
		t.Error("expected installed")
	}
	if result.Ready {
		t.Error("expected not ready before approval")
	}
	if handle.connectCalls != 0 {
		t.Error("detect must not trigger the approval flow")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	a := New(Config{}, handle, nil)

	if _, err := a.Connect(context.Background(), adapter.ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}

	if handle.disconnectCalls != 1 {
		t.Errorf("expected 1 native disconnect, got %d", handle.disconnectCalls)
	}
	if handle.listenerCount() != 0 {
		t.Errorf("expected all listeners removed, %d remain", handle.listenerCount())
	}
}

func TestAccountChangedUpdatesProvider(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	a := New(Config{}, handle, nil)

	conn, err := a.Connect(context.Background(), adapter.ConnectOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	next := testKey(t).String()
	handle.fire("accountChanged", next)

	if got := conn.Provider.Address(); got != next {
		t.Errorf("expected provider address %s, got %s", next, got)
	}
}

func TestSignMessageUnsupported(t *testing.T) {
	handle := newFakeHandle(testKey(t))
	a := New(Config{}, handle, nil)

	conn, err := a.Connect(context.Background(), adapter.ConnectOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, err = conn.Transport.Request(context.Background(), "signMessage", []byte("hello"))
	if !errors.Is(err, wallet.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unsupported signer, got %v", err)
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/wallet"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetByWallet(_ context.Context, walletID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.WalletID == walletID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) List(_ context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// fakeAdapter is a scriptable adapter.Adapter. connectErrs is consumed
// one error per Connect call; once exhausted Connect succeeds.
type fakeAdapter struct {
	mu              sync.Mutex
	connectErrs     []error
	address         string
	chainID         string
	connectCalls    int
	disconnectCalls int
	entered         chan struct{}
	release         chan struct{}
	events          *wallet.Emitter
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		address: "0xabc",
		chainID: "0x1",
		events:  wallet.NewEmitter(),
	}
}

func (f *fakeAdapter) Name() string                { return "io.metamask" }
func (f *fakeAdapter) ChainType() wallet.ChainType { return wallet.ChainTypeEVM }
func (f *fakeAdapter) Metadata() wallet.Metadata   { return wallet.Metadata{Name: "MetaMask"} }
func (f *fakeAdapter) SetHandle(any) error         { return nil }
func (f *fakeAdapter) Events() *wallet.Emitter     { return f.events }

func (f *fakeAdapter) Detect(context.Context) wallet.DetectionResult {
	return wallet.DetectionResult{Installed: true, Ready: true, Metadata: f.Metadata()}
}

func (f *fakeAdapter) Connect(_ context.Context, _ adapter.ConnectOptions) (*wallet.Connection, error) {
	f.mu.Lock()
	f.connectCalls++
	var err error
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &wallet.Connection{
		Address:   f.address,
		Accounts:  []string{f.address},
		ChainType: wallet.ChainTypeEVM,
		ChainID:   f.chainID,
		ChainName: "Ethereum Mainnet",
	}, nil
}

func (f *fakeAdapter) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return nil
}

func (f *fakeAdapter) calls() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.disconnectCalls
}

type fakeHistory struct {
	mu      sync.Mutex
	records []string
}

func (h *fakeHistory) RecordConnection(_ context.Context, walletID, address, chainID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, fmt.Sprintf("%s/%s/%s", walletID, address, chainID))
	return nil
}

func resolverFor(ad adapter.Adapter) AdapterResolver {
	return func(walletID string) (adapter.Adapter, error) {
		if ad == nil || walletID != ad.Name() {
			return nil, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, walletID)
		}
		return ad, nil
	}
}

func newTestService(ad adapter.Adapter, store Store) *Service {
	cfg := Config{
		AutoRetry:  true,
		MaxRetries: 3,
		Backoff:    BackoffConfig{Base: time.Millisecond, Max: 10 * time.Millisecond},
	}
	return NewService(cfg, resolverFor(ad), store, nil, nil, nil)
}

func TestConnectRequiresWalletID(t *testing.T) {
	svc := newTestService(newFakeAdapter(), newMemStore())

	res := svc.Connect(context.Background(), ConnectOptions{})
	if res.Success {
		t.Fatal("expected connect without wallet ID to fail")
	}
	if !errors.Is(res.Err, wallet.ErrValidation) {
		t.Errorf("expected validation error, got %v", res.Err)
	}
}

func TestConnectEstablishesSession(t *testing.T) {
	ad := newFakeAdapter()
	store := newMemStore()
	svc := newTestService(ad, store)

	var progress []int
	svc.Events().On(wallet.EventConnectionProgress, func(ev wallet.Event) {
		progress = append(progress, ev.Data["progress"].(int))
	})
	established := 0
	svc.Events().On(wallet.EventConnectionEstablished, func(wallet.Event) {
		established++
	})

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask", ChainID: "0x1"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}
	if res.Session.Status != StatusConnected {
		t.Errorf("status = %s, want %s", res.Session.Status, StatusConnected)
	}
	if res.Session.Account != "0xabc" || res.Session.ChainID != "0x1" {
		t.Errorf("unexpected session identity: %q on %q", res.Session.Account, res.Session.ChainID)
	}
	if stored, err := store.Get(context.Background(), res.Session.ID); err != nil || stored.Status != StatusConnected {
		t.Errorf("session not persisted: %v", err)
	}

	want := []int{10, 40, 70, 90, 100}
	if len(progress) != len(want) {
		t.Fatalf("progress events = %v, want %v", progress, want)
	}
	for i, p := range want {
		if progress[i] != p {
			t.Errorf("progress[%d] = %d, want %d", i, progress[i], p)
		}
	}
	if established != 1 {
		t.Errorf("established events = %d, want 1", established)
	}
}

func TestConnectIdempotentWhenConnected(t *testing.T) {
	ad := newFakeAdapter()
	svc := newTestService(ad, newMemStore())

	first := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !first.Success {
		t.Fatalf("first Connect failed: %v", first.Err)
	}
	second := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !second.Success {
		t.Fatalf("second Connect failed: %v", second.Err)
	}
	if second.Session.ID != first.Session.ID {
		t.Errorf("expected the existing session back, got %s vs %s", second.Session.ID, first.Session.ID)
	}
	if connects, _ := ad.calls(); connects != 1 {
		t.Errorf("adapter Connect calls = %d, want 1", connects)
	}
}

func TestConnectForceBypassesShortCircuit(t *testing.T) {
	ad := newFakeAdapter()
	svc := newTestService(ad, newMemStore())

	first := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !first.Success {
		t.Fatalf("first Connect failed: %v", first.Err)
	}
	second := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask", Force: true})
	if !second.Success {
		t.Fatalf("forced Connect failed: %v", second.Err)
	}
	if second.Session.ID == first.Session.ID {
		t.Error("expected a fresh session on forced connect")
	}
	if connects, _ := ad.calls(); connects != 2 {
		t.Errorf("adapter Connect calls = %d, want 2", connects)
	}
}

func TestConnectRefusesConcurrentAttempt(t *testing.T) {
	ad := newFakeAdapter()
	ad.entered = make(chan struct{}, 1)
	ad.release = make(chan struct{})
	svc := newTestService(ad, newMemStore())

	done := make(chan ConnectResult, 1)
	go func() {
		done <- svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	}()
	<-ad.entered

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if res.Success {
		t.Error("expected second connect to be refused while one is in flight")
	}
	if !errors.Is(res.Err, wallet.ErrConnectionFailed) {
		t.Errorf("expected connection failed error, got %v", res.Err)
	}

	close(ad.release)
	if first := <-done; !first.Success {
		t.Errorf("in-flight connect should have completed: %v", first.Err)
	}
	if connects, _ := ad.calls(); connects != 1 {
		t.Errorf("adapter Connect calls = %d, want 1", connects)
	}
}

func TestConnectRetriesTransientFailure(t *testing.T) {
	ad := newFakeAdapter()
	ad.connectErrs = []error{
		errors.New("handshake interrupted"),
		errors.New("handshake interrupted"),
	}
	svc := newTestService(ad, newMemStore())

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed after retries: %v", res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if connects, _ := ad.calls(); connects != 3 {
		t.Errorf("adapter Connect calls = %d, want 3", connects)
	}
}

func TestConnectDoesNotRetryUserRejection(t *testing.T) {
	ad := newFakeAdapter()
	ad.connectErrs = []error{fmt.Errorf("%w: user rejected the request", wallet.ErrUserRejected)}
	svc := newTestService(ad, newMemStore())

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if res.Success {
		t.Fatal("expected rejected connect to fail")
	}
	if !errors.Is(res.Err, wallet.ErrUserRejected) {
		t.Errorf("expected user rejection, got %v", res.Err)
	}
	if connects, _ := ad.calls(); connects != 1 {
		t.Errorf("adapter Connect calls = %d, want 1 (no retries)", connects)
	}
}

func TestConnectGivesUpAfterMaxRetries(t *testing.T) {
	ad := newFakeAdapter()
	ad.connectErrs = []error{
		errors.New("handshake interrupted"),
		errors.New("handshake interrupted"),
		errors.New("handshake interrupted"),
		errors.New("handshake interrupted"),
		errors.New("handshake interrupted"),
	}
	svc := newTestService(ad, newMemStore())

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if res.Success {
		t.Fatal("expected connect to give up")
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if connects, _ := ad.calls(); connects != 4 {
		t.Errorf("adapter Connect calls = %d, want 4 (initial + 3 retries)", connects)
	}
}

func TestConnectReconnectStrategyTearsDownFirst(t *testing.T) {
	ad := newFakeAdapter()
	ad.connectErrs = []error{errors.New("session expired, please reconnect")}
	svc := newTestService(ad, newMemStore())

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}
	connects, disconnects := ad.calls()
	if connects != 2 {
		t.Errorf("adapter Connect calls = %d, want 2", connects)
	}
	if disconnects != 1 {
		t.Errorf("adapter Disconnect calls = %d, want 1 (teardown before reconnect)", disconnects)
	}
}

func TestConnectUnknownWallet(t *testing.T) {
	svc := newTestService(newFakeAdapter(), newMemStore())

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "org.nonexistent"})
	if res.Success {
		t.Fatal("expected connect to an unknown wallet to fail")
	}
	if !errors.Is(res.Err, wallet.ErrWalletNotFound) {
		t.Errorf("expected wallet not found, got %v", res.Err)
	}
}

func TestConnectRecordsHistory(t *testing.T) {
	ad := newFakeAdapter()
	hist := &fakeHistory{}
	cfg := Config{AutoRetry: true, Backoff: BackoffConfig{Base: time.Millisecond, Max: 10 * time.Millisecond}}
	svc := NewService(cfg, resolverFor(ad), newMemStore(), nil, hist, nil)

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask", ChainID: "0x1"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.records) != 1 || hist.records[0] != "io.metamask/0xabc/0x1" {
		t.Errorf("history records = %v, want [io.metamask/0xabc/0x1]", hist.records)
	}
}

func TestDisconnectWithoutSession(t *testing.T) {
	svc := newTestService(newFakeAdapter(), newMemStore())

	res := svc.Disconnect(context.Background(), DisconnectOptions{})
	if !res.Success {
		t.Errorf("disconnect with no session should be a no-op success, got %v", res.Err)
	}
}

func TestDisconnectBlockedByPendingTransactions(t *testing.T) {
	ad := newFakeAdapter()
	store := newMemStore()
	svc := newTestService(ad, store)

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}
	sess, _ := store.Get(context.Background(), res.Session.ID)
	sess.Metadata.PendingTransactions = []string{"0xaa", "0xbb"}
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	dres := svc.Disconnect(context.Background(), DisconnectOptions{})
	if dres.Success {
		t.Fatal("expected pending transactions to block disconnection")
	}
	if !errors.Is(dres.Err, wallet.ErrValidation) {
		t.Errorf("expected validation error, got %v", dres.Err)
	}
	if _, disconnects := ad.calls(); disconnects != 0 {
		t.Error("adapter should not be torn down when the gate blocks")
	}

	dres = svc.Disconnect(context.Background(), DisconnectOptions{Force: true})
	if !dres.Success {
		t.Errorf("forced disconnect failed: %v", dres.Err)
	}
}

func TestDisconnectDeletesSession(t *testing.T) {
	ad := newFakeAdapter()
	store := newMemStore()
	svc := newTestService(ad, store)

	var disconnected []wallet.Event
	svc.Events().On(wallet.EventSessionDisconnected, func(ev wallet.Event) {
		disconnected = append(disconnected, ev)
	})

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}

	dres := svc.Disconnect(context.Background(), DisconnectOptions{})
	if !dres.Success {
		t.Fatalf("Disconnect failed: %v", dres.Err)
	}
	if store.len() != 0 {
		t.Error("expected the session record to be deleted")
	}
	if sess, err := svc.ActiveSession(context.Background()); err != nil || sess != nil {
		t.Errorf("ActiveSession after disconnect = %v, %v; want nil, nil", sess, err)
	}
	if _, disconnects := ad.calls(); disconnects != 1 {
		t.Errorf("adapter Disconnect calls = %d, want 1", disconnects)
	}
	if len(disconnected) != 1 || disconnected[0].Data["retained"] != false {
		t.Errorf("unexpected disconnect events: %v", disconnected)
	}
}

func TestDisconnectRetainsSession(t *testing.T) {
	ad := newFakeAdapter()
	store := newMemStore()
	svc := newTestService(ad, store)

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}

	dres := svc.Disconnect(context.Background(), DisconnectOptions{RetainSession: true})
	if !dres.Success {
		t.Fatalf("Disconnect failed: %v", dres.Err)
	}
	sess, err := store.Get(context.Background(), res.Session.ID)
	if err != nil {
		t.Fatalf("retained session is gone: %v", err)
	}
	if sess.Status != StatusDisconnected {
		t.Errorf("status = %s, want %s", sess.Status, StatusDisconnected)
	}
}

func TestRestoreSessionAdoptsPersistedRecord(t *testing.T) {
	store := newMemStore()
	svc := newTestService(newFakeAdapter(), store)

	orig := &Session{
		ID:       "sess-1",
		WalletID: "io.metamask",
		Status:   StatusConnected,
		Account:  "0xabc",
		ChainID:  "0x1",
	}
	if err := store.Put(context.Background(), orig); err != nil {
		t.Fatalf("Put: %v", err)
	}

	restored, err := svc.RestoreSession(context.Background(), "io.metamask")
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if restored == nil || restored.ID != "sess-1" {
		t.Fatalf("restored = %v, want session sess-1", restored)
	}
	active, err := svc.ActiveSession(context.Background())
	if err != nil || active == nil || active.ID != "sess-1" {
		t.Errorf("ActiveSession = %v, %v; want sess-1", active, err)
	}
}

func TestRestoreSessionMissing(t *testing.T) {
	svc := newTestService(newFakeAdapter(), newMemStore())

	restored, err := svc.RestoreSession(context.Background(), "io.metamask")
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if restored != nil {
		t.Errorf("restored = %v, want nil", restored)
	}
}

func TestSwitchChain(t *testing.T) {
	ad := newFakeAdapter()
	store := newMemStore()
	svc := newTestService(ad, store)

	if err := svc.SwitchChain(context.Background(), "0x89"); !errors.Is(err, wallet.ErrValidation) {
		t.Errorf("expected validation error without a session, got %v", err)
	}

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}
	if err := svc.SwitchChain(context.Background(), "0x89"); err != nil {
		t.Fatalf("SwitchChain: %v", err)
	}

	sess, _ := store.Get(context.Background(), res.Session.ID)
	if sess.ChainID != "0x89" {
		t.Errorf("chain ID = %s, want 0x89", sess.ChainID)
	}
	if sess.Status != StatusConnected {
		t.Errorf("status = %s, want %s", sess.Status, StatusConnected)
	}
}

func TestSwitchAccount(t *testing.T) {
	ad := newFakeAdapter()
	store := newMemStore()
	svc := newTestService(ad, store)

	if err := svc.SwitchAccount(context.Background(), ""); !errors.Is(err, wallet.ErrValidation) {
		t.Errorf("expected validation error for empty account, got %v", err)
	}
	if err := svc.SwitchAccount(context.Background(), "0xnew"); !errors.Is(err, wallet.ErrValidation) {
		t.Errorf("expected validation error without a session, got %v", err)
	}

	res := svc.Connect(context.Background(), ConnectOptions{WalletID: "io.metamask"})
	if !res.Success {
		t.Fatalf("Connect failed: %v", res.Err)
	}
	if err := svc.SwitchAccount(context.Background(), "0xnew"); err != nil {
		t.Fatalf("SwitchAccount: %v", err)
	}

	sess, _ := store.Get(context.Background(), res.Session.ID)
	if sess.Account != "0xnew" {
		t.Errorf("account = %s, want 0xnew", sess.Account)
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/health"
	"github.com/walletmesh/bridge/internal/wallet"
)

// AdapterResolver locates the adapter serving a wallet. It returns
// wallet.ErrWalletNotFound when no adapter can serve it.
type AdapterResolver func(walletID string) (adapter.Adapter, error)

// History records wallet recency/preference bookkeeping. Nil history
// is allowed; recording failures are logged, never fatal.
type History interface {
	RecordConnection(ctx context.Context, walletID, address, chainID string) error
}

// Config holds session service settings.
type Config struct {
	// AutoRetry enables bounded recovery after recoverable failures.
	AutoRetry bool `yaml:"auto_retry"`

	// MaxRetries caps recovery attempts.
	MaxRetries int `yaml:"max_retries"`

	Backoff BackoffConfig `yaml:"backoff"`
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff.Base == 0 {
		c.Backoff.Base = 500 * time.Millisecond
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = 30 * time.Second
	}
	return c
}

// ConnectOptions tunes one connect call.
type ConnectOptions struct {
	WalletID string
	ChainID  string

	// Force bypasses the in-flight guard and the idempotent
	// short-circuit.
	Force bool

	// AllowSelection permits a wallet-selection UI to resolve the
	// wallet later, skipping the walletID presence check.
	AllowSelection bool
}

// ConnectResult is returned as a value so callers always get an
// outcome instead of handling exceptions.
type ConnectResult struct {
	Success  bool
	Session  *Session
	Attempts int
	Err      error
}

// DisconnectOptions tunes one disconnect call.
type DisconnectOptions struct {
	// RetainSession downgrades the session to Disconnected instead of
	// deleting it, preserving metadata for later reconnection.
	RetainSession bool

	// Force skips the pending-transaction safety gate.
	Force bool
}

// DisconnectResult mirrors ConnectResult.
type DisconnectResult struct {
	Success bool
	Err     error
}

// Service drives the per-slot connect/disconnect/reconnect state
// machine: Disconnected -> Connecting -> Connected -> {Disconnected |
// Error}, with Error transitioning back to Connecting via recovery.
// One service instance is one slot; at most one connect proceeds at a
// time per instance, but two instances may connect concurrently.
type Service struct {
	cfg     Config
	resolve AdapterResolver
	store   Store
	health  *health.Analyzer
	history History
	events  *wallet.Emitter
	logger  *slog.Logger

	mu         sync.Mutex
	connecting bool
	activeID   string
}

// NewService creates a session service for one wallet slot.
func NewService(cfg Config, resolve AdapterResolver, store Store, analyzer *health.Analyzer, history History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if analyzer == nil {
		analyzer = health.NewAnalyzer(logger)
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		resolve: resolve,
		store:   store,
		health:  analyzer,
		history: history,
		events:  wallet.NewEmitter(),
		logger:  logger.With("component", "session"),
	}
}

// Events is the progress/lifecycle surface consumed by the UI layer.
func (s *Service) Events() *wallet.Emitter {
	return s.events
}

// ActiveSession looks up the slot's session directly in the store.
// The service never caches a session across suspension points.
func (s *Service) ActiveSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	id := s.activeID
	s.mu.Unlock()

	if id == "" {
		return nil, nil
	}
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// RestoreSession adopts a previously persisted session for the wallet,
// typically after a daemon restart. Returns nil when none exists.
func (s *Service) RestoreSession(ctx context.Context, walletID string) (*Session, error) {
	sess, err := s.store.GetByWallet(ctx, walletID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.activeID = sess.ID
	s.mu.Unlock()
	return sess, nil
}

// Connect establishes a session. Failures come back in the result; a
// missing wallet ID is the one precondition violation reported as a
// typed validation error.
func (s *Service) Connect(ctx context.Context, opts ConnectOptions) ConnectResult {
	if opts.WalletID == "" && !opts.AllowSelection {
		return ConnectResult{Err: fmt.Errorf("%w: wallet ID is required", wallet.ErrValidation)}
	}

	s.mu.Lock()
	if s.connecting && !opts.Force {
		s.mu.Unlock()
		return ConnectResult{Err: fmt.Errorf("%w: connection already in progress", wallet.ErrConnectionFailed)}
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	// Idempotent reconnect avoidance: an already-connected slot returns
	// its existing session unless forced.
	if !opts.Force {
		if existing, err := s.ActiveSession(ctx); err == nil && existing != nil && existing.Status == StatusConnected {
			existing.Touch()
			if perr := s.store.Put(ctx, existing); perr != nil {
				s.logger.Warn("failed to touch session", "error", perr)
			}
			return ConnectResult{Success: true, Session: existing}
		}
	}

	sess, err := s.establish(ctx, opts)
	if err == nil {
		return ConnectResult{Success: true, Session: sess}
	}

	analysis := s.health.AnalyzeError(err)
	if !s.cfg.AutoRetry || !analysis.Recoverable {
		return ConnectResult{Err: err}
	}
	return s.recoverConnect(ctx, opts, err, analysis)
}

// establish drives the four-stage connect sequence against the chain
// adapter and persists the resulting session.
func (s *Service) establish(ctx context.Context, opts ConnectOptions) (*Session, error) {
	s.progress(opts.WalletID, "initializing", 10)
	ad, err := s.resolve(opts.WalletID)
	if err != nil {
		return nil, err
	}

	s.progress(opts.WalletID, "connecting", 40)
	conn, err := ad.Connect(ctx, adapter.ConnectOptions{ChainID: opts.ChainID})
	if err != nil {
		return nil, err
	}

	s.progress(opts.WalletID, "authenticating", 70)
	if conn.Address == "" {
		return nil, fmt.Errorf("%w: wallet returned no identity", wallet.ErrConnectionFailed)
	}

	s.progress(opts.WalletID, "finalizing", 90)
	now := time.Now()
	sess := &Session{
		ID:             uuid.NewString(),
		WalletID:       opts.WalletID,
		Status:         StatusConnected,
		Account:        conn.Address,
		ChainID:        conn.ChainID,
		CreatedAt:      now,
		LastActivityAt: now,
		Metadata:       Metadata{ChainName: conn.ChainName},
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.activeID = sess.ID
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.RecordConnection(ctx, opts.WalletID, conn.Address, conn.ChainID); err != nil {
			s.logger.Warn("failed to record connection history", "error", err)
		}
	}

	s.progress(opts.WalletID, "finalizing", 100)
	s.events.Emit(wallet.Event{
		Type:     wallet.EventConnectionEstablished,
		WalletID: opts.WalletID,
		Data:     map[string]any{"session_id": sess.ID, "address": conn.Address},
	})
	s.logger.Info("session established", "session_id", sess.ID, "wallet_id", opts.WalletID, "address", conn.Address)
	return sess, nil
}

// recoverConnect runs bounded recovery: up to MaxRetries attempts, each
// preceded by a delay, as plain retries or full reconnects depending on
// the suggested strategy.
func (s *Service) recoverConnect(ctx context.Context, opts ConnectOptions, lastErr error, analysis health.Analysis) ConnectResult {
	s.health.StartRecovery(opts.WalletID)
	defer s.health.StopRecovery(opts.WalletID)

	attempts := 0
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if check := ValidateRetryConditions(lastErr, attempt, s.cfg.MaxRetries); !check.Valid {
			s.logger.Info("recovery halted", "wallet_id", opts.WalletID, "reason", check.Reason)
			break
		}

		delay := analysis.RetryDelay
		if delay == 0 {
			delay = CalculateRetryDelay(s.cfg.Backoff, attempt)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ConnectResult{Err: ctx.Err(), Attempts: attempts}
		}

		if analysis.Strategy == health.StrategyReconnect {
			if ad, rerr := s.resolve(opts.WalletID); rerr == nil {
				if derr := ad.Disconnect(ctx); derr != nil {
					s.logger.Warn("reconnect teardown failed", "error", derr)
				}
			}
		}

		attempts++
		start := time.Now()
		sess, err := s.establish(ctx, opts)
		s.health.RecordRecoveryAttempt(opts.WalletID, attempts, err == nil, time.Since(start), err)
		s.events.Emit(wallet.Event{
			Type:     wallet.EventRecoveryAttempt,
			WalletID: opts.WalletID,
			Data:     map[string]any{"attempt": attempts, "success": err == nil},
		})

		if err == nil {
			return ConnectResult{Success: true, Session: sess, Attempts: attempts}
		}
		lastErr = err
		analysis = s.health.AnalyzeError(err)
		if !analysis.Recoverable {
			break
		}
	}

	return ConnectResult{Err: lastErr, Attempts: attempts}
}

// Disconnect tears down the slot's session. A slot with no session is
// a successful no-op. Native failures are reported but never prevent
// the local bookkeeping from being updated.
func (s *Service) Disconnect(ctx context.Context, opts DisconnectOptions) DisconnectResult {
	sess, err := s.ActiveSession(ctx)
	if err != nil {
		return DisconnectResult{Err: err}
	}
	if sess == nil {
		return DisconnectResult{Success: true}
	}

	if check := ValidateDisconnectionSafety([]*Session{sess}, "", opts.Force); !check.Valid {
		return DisconnectResult{Err: fmt.Errorf("%w: %s", wallet.ErrValidation, check.Reason)}
	}

	if ad, rerr := s.resolve(sess.WalletID); rerr == nil {
		if derr := ad.Disconnect(ctx); derr != nil {
			s.logger.Warn("chain disconnect failed", "wallet_id", sess.WalletID, "error", derr)
		}
	}

	if opts.RetainSession {
		sess.Status = StatusDisconnected
		sess.Touch()
		if perr := s.store.Put(ctx, sess); perr != nil {
			s.logger.Warn("failed to downgrade session", "error", perr)
		}
	} else {
		if derr := s.store.Delete(ctx, sess.ID); derr != nil {
			s.logger.Warn("failed to delete session", "error", derr)
		}
	}

	s.mu.Lock()
	s.activeID = ""
	s.mu.Unlock()
	s.health.ResetMetrics()

	s.events.Emit(wallet.Event{
		Type:     wallet.EventSessionDisconnected,
		WalletID: sess.WalletID,
		Data:     map[string]any{"session_id": sess.ID, "retained": opts.RetainSession},
	})
	return DisconnectResult{Success: true}
}

// SwitchChain moves the active session to another network. Requires an
// active session.
func (s *Service) SwitchChain(ctx context.Context, chainID string) error {
	sess, err := s.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status != StatusConnected {
		return fmt.Errorf("%w: no active session", wallet.ErrValidation)
	}

	sess.Status = StatusSwitching
	sess.ChainID = chainID
	sess.Touch()
	if err := s.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	sess.Status = StatusConnected
	return s.store.Put(ctx, sess)
}

// SwitchAccount moves the active session to another account. Requires
// an active session.
func (s *Service) SwitchAccount(ctx context.Context, account string) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", wallet.ErrValidation)
	}

	sess, err := s.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status != StatusConnected {
		return fmt.Errorf("%w: no active session", wallet.ErrValidation)
	}

	sess.Account = account
	sess.Touch()
	return s.store.Put(ctx, sess)
}

func (s *Service) progress(walletID, stage string, pct int) {
	s.events.Emit(wallet.Event{
		Type:     wallet.EventConnectionProgress,
		WalletID: walletID,
		Data:     map[string]any{"stage": stage, "progress": pct},
	})
}

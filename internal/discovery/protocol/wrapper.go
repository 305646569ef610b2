package protocol

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Config tunes one wrapper instance.
type Config struct {
	// Timeout bounds a discovery round. Exceeding it is a normal
	// outcome carrying partial results, not an error.
	Timeout time.Duration `yaml:"timeout"`

	// ProgressInterval is the tick period for progress events.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// DisableProgress turns off progress emission.
	DisableProgress bool `yaml:"disable_progress"`
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 250 * time.Millisecond
	}
	return c
}

// Wrapper turns the initiator's single promise-shaped round into a
// restartable, cancellable stream of lifecycle events:
// started -> progress* -> (completed | timeout | error).
// At most one round may be in flight per wrapper instance.
type Wrapper struct {
	cfg       Config
	initiator Initiator
	connMgr   ConnectionManager
	events    *wallet.Emitter
	logger    *slog.Logger

	mu          sync.Mutex
	discovering bool
	seen        map[string]struct{}
	found       []Responder
}

// NewWrapper creates a wrapper around an initiator.
func NewWrapper(cfg Config, initiator Initiator, connMgr ConnectionManager, logger *slog.Logger) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		cfg:       cfg.withDefaults(),
		initiator: initiator,
		connMgr:   connMgr,
		events:    wallet.NewEmitter(),
		logger:    logger.With("component", "discovery-protocol"),
	}
}

// Events is the subscribable lifecycle surface. Subscribing returns an
// unsubscribe func, so multiple observers can watch one round.
func (w *Wrapper) Events() *wallet.Emitter {
	return w.events
}

// IsDiscovering reports whether a round is in flight.
func (w *Wrapper) IsDiscovering() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.discovering
}

// StartDiscovery runs one discovery round. If a round is already in
// flight it refuses, returning an empty list. A timeout resolves with
// whatever partial results accumulated. An initiator failure is
// normalized, emitted as discovery_error, and returned.
func (w *Wrapper) StartDiscovery(ctx context.Context) ([]Responder, error) {
	w.mu.Lock()
	if w.discovering {
		w.mu.Unlock()
		w.logger.Warn("discovery already in progress, refusing to start another round")
		return nil, nil
	}
	w.discovering = true
	w.seen = make(map[string]struct{})
	w.found = nil
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.discovering = false
		w.mu.Unlock()
	}()

	start := time.Now()
	w.events.Emit(wallet.Event{Type: wallet.EventDiscoveryStarted})

	progressDone := make(chan struct{})
	if !w.cfg.DisableProgress {
		go w.emitProgress(start, progressDone)
	}
	defer close(progressDone)

	type outcome struct {
		responders []Responder
		err        error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		responders, err := w.initiator.StartDiscovery(ctx)
		resultCh <- outcome{responders: responders, err: err}
	}()

	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			err := wallet.Normalize(res.err)
			w.events.Emit(wallet.Event{
				Type:   wallet.EventDiscoveryError,
				Reason: err.Error(),
				Data:   map[string]any{"recoverable": isRecoverable(err)},
			})
			return nil, err
		}

		w.accumulate(res.responders)
		found := w.snapshot()
		w.events.Emit(wallet.Event{
			Type: wallet.EventDiscoveryCompleted,
			Data: map[string]any{
				"wallets":  found,
				"duration": time.Since(start).String(),
			},
		})
		return found, nil

	case <-timer.C:
		// Best-effort stop; any call already in flight to a wallet
		// cannot be aborted, we only stop waiting on it.
		if w.initiator.IsDiscovering() {
			if err := w.initiator.StopDiscovery(ctx); err != nil {
				w.logger.Warn("failed to stop discovery after timeout", "error", err)
			}
		}

		w.sweepPartial()
		found := w.snapshot()
		w.events.Emit(wallet.Event{
			Type: wallet.EventDiscoveryTimeout,
			Data: map[string]any{
				"wallets":  found,
				"duration": time.Since(start).String(),
			},
		})
		w.logger.Info("discovery timed out", "found", len(found))
		return found, nil

	case <-ctx.Done():
		if w.initiator.IsDiscovering() {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := w.initiator.StopDiscovery(stopCtx); err != nil {
				w.logger.Warn("failed to stop discovery after cancellation", "error", err)
			}
			cancel()
		}
		err := ctx.Err()
		w.events.Emit(wallet.Event{
			Type:   wallet.EventDiscoveryError,
			Reason: err.Error(),
			Data:   map[string]any{"recoverable": isRecoverable(err)},
		})
		return nil, err
	}
}

// StopDiscovery halts the underlying initiator if it is still running.
func (w *Wrapper) StopDiscovery(ctx context.Context) error {
	if !w.initiator.IsDiscovering() {
		return nil
	}
	return w.initiator.StopDiscovery(ctx)
}

// ConnectToWallet finalizes a session with a discovered wallet through
// the connection manager, emitting the connection lifecycle events.
func (w *Wrapper) ConnectToWallet(ctx context.Context, responder Responder, req ConnectRequest) (ConnectResult, error) {
	w.events.Emit(wallet.Event{
		Type:     wallet.EventConnectionRequested,
		WalletID: responder.ID,
	})

	result, err := w.connMgr.Connect(ctx, responder, req)
	if err != nil {
		err = wallet.Normalize(err)
		w.events.Emit(wallet.Event{
			Type:     wallet.EventConnectionFailed,
			WalletID: responder.ID,
			Reason:   err.Error(),
		})
		return ConnectResult{}, err
	}

	w.events.Emit(wallet.Event{
		Type:     wallet.EventConnectionEstablished,
		WalletID: responder.ID,
		Data:     map[string]any{"connection_id": result.ConnectionID},
	})
	return result, nil
}

// emitProgress ticks until done, emitting discovery_progress whenever
// the found count changed or progress crossed a 10% boundary. It also
// sweeps the initiator's partial results so wallet_found events fire as
// responders qualify.
func (w *Wrapper) emitProgress(start time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.ProgressInterval)
	defer ticker.Stop()

	lastFound := -1
	lastDecile := -1

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.sweepPartial()

			elapsed := time.Since(start)
			progress := float64(elapsed) / float64(w.cfg.Timeout) * 100
			if progress > 100 {
				progress = 100
			}

			w.mu.Lock()
			foundCount := len(w.found)
			w.mu.Unlock()

			decile := int(progress) / 10
			if foundCount == lastFound && decile == lastDecile {
				continue
			}
			lastFound = foundCount
			lastDecile = decile

			w.events.Emit(wallet.Event{
				Type: wallet.EventDiscoveryProgress,
				Data: map[string]any{
					"progress": progress,
					"found":    foundCount,
				},
			})
		}
	}
}

// sweepPartial pulls incremental results from the initiator, if it
// exposes them, into the accumulated set.
func (w *Wrapper) sweepPartial() {
	reporter, ok := w.initiator.(PartialReporter)
	if !ok {
		return
	}
	w.accumulate(reporter.Responders())
}

// accumulate records responders not already seen, emitting wallet_found
// for each. Dedup is by responder identifier, first seen wins.
func (w *Wrapper) accumulate(responders []Responder) {
	for _, r := range responders {
		w.mu.Lock()
		if _, dup := w.seen[r.ID]; dup {
			w.mu.Unlock()
			continue
		}
		w.seen[r.ID] = struct{}{}
		w.found = append(w.found, r)
		w.mu.Unlock()

		w.events.Emit(wallet.Event{
			Type:     wallet.EventWalletFound,
			WalletID: r.ID,
			Data:     map[string]any{"name": r.Name},
		})
	}
}

func (w *Wrapper) snapshot() []Responder {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Responder(nil), w.found...)
}

// recoverableKeywords marks initiator failures that are worth retrying.
var recoverableKeywords = []string{"timeout", "network", "connection", "temporary"}

func isRecoverable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, kw := range recoverableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

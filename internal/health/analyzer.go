// Package health classifies connection failures and recommends a
// recovery strategy, and keeps recovery bookkeeping for observability.
package health

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Strategy is how a failed connection should be retried.
type Strategy string

const (
	// StrategyRetry repeats the connect with the same parameters.
	StrategyRetry Strategy = "retry"
	// StrategyReconnect disconnects first, then connects with force.
	StrategyReconnect Strategy = "reconnect"
	// StrategyFatal means the failure is terminal.
	StrategyFatal Strategy = "fatal"
)

// Analysis is the per-failure classification. Consumed immediately,
// never persisted.
type Analysis struct {
	Recoverable bool
	Strategy    Strategy
	RetryDelay  time.Duration
}

// Metrics is a snapshot of recovery bookkeeping.
type Metrics struct {
	RecoveriesStarted int
	RecoveriesStopped int
	AttemptsRecorded  int
	AttemptsSucceeded int
	LastAttemptTook   time.Duration
	LastError         string
}

// Analyzer classifies failures and tracks recovery attempts.
type Analyzer struct {
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger.With("component", "health")}
}

// Terminal failure patterns. These are matched against message text
// because the true cause of an opaque third-party wallet error is only
// knowable through it; failures produced inside this repo arrive as
// typed kinds and are classified by errors.Is instead.
var (
	unavailablePatterns  = []string{"not available", "not installed", "not found"}
	staleSessionPatterns = []string{"session expired", "stale", "invalidated", "unauthorized"}
	transientPatterns    = []string{"timeout", "timed out", "network", "connection", "temporary", "rate limit"}
)

// AnalyzeError classifies a connection failure.
func (a *Analyzer) AnalyzeError(err error) Analysis {
	if err == nil {
		return Analysis{Recoverable: false, Strategy: StrategyFatal}
	}

	if wallet.IsUserRejection(err) ||
		errors.Is(err, wallet.ErrConfiguration) ||
		errors.Is(err, wallet.ErrValidation) {
		return Analysis{Recoverable: false, Strategy: StrategyFatal}
	}
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return Analysis{Recoverable: false, Strategy: StrategyFatal}
	}

	msg := strings.ToLower(err.Error())

	for _, p := range unavailablePatterns {
		if strings.Contains(msg, p) {
			return Analysis{Recoverable: false, Strategy: StrategyFatal}
		}
	}
	for _, p := range staleSessionPatterns {
		if strings.Contains(msg, p) {
			return Analysis{Recoverable: true, Strategy: StrategyReconnect, RetryDelay: time.Second}
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			delay := time.Second
			if strings.Contains(msg, "rate limit") {
				delay = 5 * time.Second
			}
			return Analysis{Recoverable: true, Strategy: StrategyRetry, RetryDelay: delay}
		}
	}

	// Unknown failure shape: one plain retry is cheap and safe.
	return Analysis{Recoverable: true, Strategy: StrategyRetry}
}

// StartRecovery marks the beginning of a recovery sequence.
func (a *Analyzer) StartRecovery(walletID string) {
	a.mu.Lock()
	a.metrics.RecoveriesStarted++
	a.mu.Unlock()
	a.logger.Info("recovery started", "wallet_id", walletID)
}

// RecordRecoveryAttempt records one attempt's outcome.
func (a *Analyzer) RecordRecoveryAttempt(walletID string, attempt int, success bool, took time.Duration, err error) {
	a.mu.Lock()
	a.metrics.AttemptsRecorded++
	if success {
		a.metrics.AttemptsSucceeded++
	}
	a.metrics.LastAttemptTook = took
	if err != nil {
		a.metrics.LastError = err.Error()
	}
	a.mu.Unlock()

	a.logger.Info("recovery attempt",
		"wallet_id", walletID,
		"attempt", attempt,
		"success", success,
		"took", took,
	)
}

// StopRecovery marks the end of a recovery sequence.
func (a *Analyzer) StopRecovery(walletID string) {
	a.mu.Lock()
	a.metrics.RecoveriesStopped++
	a.mu.Unlock()
	a.logger.Info("recovery stopped", "wallet_id", walletID)
}

// ResetMetrics clears the bookkeeping, typically after a disconnect.
func (a *Analyzer) ResetMetrics() {
	a.mu.Lock()
	a.metrics = Metrics{}
	a.mu.Unlock()
}

// Snapshot returns a copy of the current metrics.
func (a *Analyzer) Snapshot() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

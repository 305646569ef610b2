package health

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/walletmesh/bridge/internal/wallet"
)

func TestAnalyzeErrorClassification(t *testing.T) {
	a := NewAnalyzer(nil)

	tests := []struct {
		name        string
		err         error
		recoverable bool
		strategy    Strategy
	}{
		{"nil", nil, false, StrategyFatal},
		{"user rejection typed", wallet.ErrUserRejected, false, StrategyFatal},
		{"user rejection wrapped", fmt.Errorf("connect: %w", wallet.ErrUserRejected), false, StrategyFatal},
		{"user rejection text", errors.New("User denied account authorization"), false, StrategyFatal},
		{"configuration", wallet.ErrConfiguration, false, StrategyFatal},
		{"validation", wallet.ErrValidation, false, StrategyFatal},
		{"wallet missing typed", wallet.ErrWalletNotFound, false, StrategyFatal},
		{"wallet missing text", errors.New("MetaMask is not installed"), false, StrategyFatal},
		{"wallet unavailable text", errors.New("provider not available"), false, StrategyFatal},
		{"stale session", errors.New("session expired, please reconnect"), true, StrategyReconnect},
		{"unauthorized", errors.New("unauthorized: signer revoked"), true, StrategyReconnect},
		{"timeout", errors.New("request timed out"), true, StrategyRetry},
		{"network", errors.New("network unreachable"), true, StrategyRetry},
		{"rate limit", errors.New("rate limit exceeded"), true, StrategyRetry},
		{"unknown", errors.New("something odd happened"), true, StrategyRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.AnalyzeError(tt.err)
			if got.Recoverable != tt.recoverable {
				t.Errorf("recoverable = %v, want %v", got.Recoverable, tt.recoverable)
			}
			if got.Strategy != tt.strategy {
				t.Errorf("strategy = %s, want %s", got.Strategy, tt.strategy)
			}
		})
	}
}

func TestAnalyzeErrorRateLimitBacksOffLonger(t *testing.T) {
	a := NewAnalyzer(nil)

	plain := a.AnalyzeError(errors.New("connection reset"))
	limited := a.AnalyzeError(errors.New("rate limit exceeded"))

	if limited.RetryDelay <= plain.RetryDelay {
		t.Errorf("rate limit delay %v must exceed transient delay %v", limited.RetryDelay, plain.RetryDelay)
	}
}

func TestRecoveryMetrics(t *testing.T) {
	a := NewAnalyzer(nil)

	a.StartRecovery("evm")
	a.RecordRecoveryAttempt("evm", 1, false, 10*time.Millisecond, errors.New("timeout"))
	a.RecordRecoveryAttempt("evm", 2, true, 20*time.Millisecond, nil)
	a.StopRecovery("evm")

	m := a.Snapshot()
	if m.RecoveriesStarted != 1 || m.RecoveriesStopped != 1 {
		t.Errorf("expected 1 started / 1 stopped, got %d/%d", m.RecoveriesStarted, m.RecoveriesStopped)
	}
	if m.AttemptsRecorded != 2 || m.AttemptsSucceeded != 1 {
		t.Errorf("expected 2 recorded / 1 succeeded, got %d/%d", m.AttemptsRecorded, m.AttemptsSucceeded)
	}
	if m.LastAttemptTook != 20*time.Millisecond {
		t.Errorf("unexpected last attempt duration %v", m.LastAttemptTook)
	}
	if m.LastError != "timeout" {
		t.Errorf("unexpected last error %q", m.LastError)
	}

	a.ResetMetrics()
	if m := a.Snapshot(); m.AttemptsRecorded != 0 {
		t.Error("expected metrics cleared after reset")
	}
}

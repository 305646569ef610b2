package session

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryCheck is the outcome of retry-eligibility validation.
type RetryCheck struct {
	Valid  bool
	Reason string
}

// Terminal, non-transient failure patterns. Matched on message text
// because these surface from opaque native wallet errors.
var (
	userRejectionPatterns     = []string{"user rejected", "user denied", "transaction was rejected"}
	walletUnavailablePatterns = []string{"not available", "not installed", "not found"}
)

// ValidateRetryConditions decides whether another recovery attempt is
// allowed. It rejects once the attempt cap is reached, and rejects
// regardless of attempt count when the failure is a user rejection or
// a missing wallet.
func ValidateRetryConditions(err error, attempt, maxAttempts int) RetryCheck {
	if attempt >= maxAttempts {
		return RetryCheck{Valid: false, Reason: fmt.Sprintf("attempt limit reached (%d/%d)", attempt, maxAttempts)}
	}

	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, p := range userRejectionPatterns {
			if strings.Contains(msg, p) {
				return RetryCheck{Valid: false, Reason: "not retrying: user rejected the request"}
			}
		}
		for _, p := range walletUnavailablePatterns {
			if strings.Contains(msg, p) {
				return RetryCheck{Valid: false, Reason: "not retrying: wallet is unavailable"}
			}
		}
	}

	return RetryCheck{Valid: true}
}

// BackoffConfig tunes retry delays.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// CalculateRetryDelay returns the delay before the given attempt:
// base doubled per attempt, plus up to 20% random jitter, capped at Max.
func CalculateRetryDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.Base <= 0 {
		cfg.Base = 500 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}

	delay := cfg.Base
	for i := 0; i < attempt && delay < cfg.Max; i++ {
		delay *= 2
	}
	if delay > cfg.Max {
		delay = cfg.Max
	}

	if jitterRange := delay / 5; jitterRange > 0 {
		delay += time.Duration(rand.Int64N(int64(jitterRange)))
	}
	if delay > cfg.Max {
		delay = cfg.Max
	}
	return delay
}

// SafetyResult is the outcome of disconnect-safety validation.
type SafetyResult struct {
	Valid               bool
	Reason              string
	BlockingWallets     []string
	PendingTransactions int
}

// ValidateDisconnectionSafety refuses to tear down sessions that still
// carry pending transactions, naming the affected wallets and the
// total pending count. targetWalletID scopes the scan to one wallet;
// force skips the check entirely.
func ValidateDisconnectionSafety(sessions []*Session, targetWalletID string, force bool) SafetyResult {
	if force {
		return SafetyResult{Valid: true}
	}

	var blocking []string
	total := 0
	for _, s := range sessions {
		if targetWalletID != "" && s.WalletID != targetWalletID {
			continue
		}
		if n := len(s.Metadata.PendingTransactions); n > 0 {
			blocking = append(blocking, s.WalletID)
			total += n
		}
	}

	if len(blocking) > 0 {
		return SafetyResult{
			Valid:               false,
			Reason:              fmt.Sprintf("%d pending transaction(s) on wallet(s): %s", total, strings.Join(blocking, ", ")),
			BlockingWallets:     blocking,
			PendingTransactions: total,
		}
	}
	return SafetyResult{Valid: true}
}

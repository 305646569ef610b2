package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// Closed set of failure kinds crossing the adapter boundary. Adapters
// tag failures at the point they occur; callers classify with errors.Is
// instead of re-parsing message text.
var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrConnectionFailed = errors.New("connection failed")
	ErrUserRejected     = errors.New("user rejected request")
	ErrConfiguration    = errors.New("configuration error")
	ErrDisconnectFailed = errors.New("disconnect failed")
	ErrValidation       = errors.New("validation error")
)

// userRejectedCode is the EIP-1193 "user rejected request" error code.
const userRejectedCode = 4001

// rpcCoded matches go-ethereum's rpc error surface without importing it
// here; any native error carrying a JSON-RPC code satisfies it.
type rpcCoded interface {
	ErrorCode() int
}

// IsUserRejection reports whether a native wallet failure represents the
// user declining the request. The code check is authoritative; the
// message patterns cover wallets that only report text.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var coded rpcCoded
	if errors.As(err, &coded) && coded.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"user rejected", "user denied", "rejected by user"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Normalize converts an arbitrary recovered value into an error. Values
// already carrying an error are returned as-is; everything else is
// stringified into a ConnectionFailed.
func Normalize(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case error:
		return e
	default:
		return fmt.Errorf("%w: %v", ErrConnectionFailed, e)
	}
}

package solana

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/gagliardetto/solana-go"

	"github.com/walletmesh/bridge/internal/wallet"
)

// WalletHandle is the wallet-standard-shaped surface of a Solana wallet.
type WalletHandle interface {
	// Connect performs the wallet approval flow and returns the active
	// public key.
	Connect(ctx context.Context) (sdk.PublicKey, error)

	// PublicKey returns the live identity without triggering approval.
	// It errors (or returns the zero key) when no session is active.
	PublicKey() (sdk.PublicKey, error)

	Disconnect(ctx context.Context) error
}

// MessageSigner is implemented by handles that can sign raw messages.
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) (sdk.Signature, error)
}

// TransactionSigner is implemented by handles that can sign transactions.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, tx *sdk.Transaction) (*sdk.Transaction, error)
}

// transport maps Solana wallet calls onto the native handle. Methods
// the handle cannot serve fail with a configuration error.
type transport struct {
	handle WalletHandle
}

var _ wallet.Transport = (*transport)(nil)

func (t *transport) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "getAccount":
		pk, err := t.handle.PublicKey()
		if err != nil {
			return nil, err
		}
		return json.Marshal(pk.String())

	case "signMessage":
		signer, ok := t.handle.(MessageSigner)
		if !ok {
			return nil, fmt.Errorf("%w: wallet does not support message signing", wallet.ErrConfiguration)
		}
		msg, err := messageParam(params)
		if err != nil {
			return nil, err
		}
		sig, err := signer.SignMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sig.String())

	case "signTransaction":
		signer, ok := t.handle.(TransactionSigner)
		if !ok {
			return nil, fmt.Errorf("%w: wallet does not support transaction signing", wallet.ErrConfiguration)
		}
		tx, err := transactionParam(params)
		if err != nil {
			return nil, err
		}
		signed, err := signer.SignTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		data, err := signed.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode signed transaction: %w", err)
		}
		return json.Marshal(data)

	default:
		return nil, fmt.Errorf("%w: method %q not supported by Solana transport", wallet.ErrConfiguration, method)
	}
}

func messageParam(params []any) ([]byte, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%w: signMessage expects one parameter", wallet.ErrValidation)
	}
	switch v := params[0].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: signMessage parameter must be bytes or string", wallet.ErrValidation)
	}
}

func transactionParam(params []any) (*sdk.Transaction, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%w: signTransaction expects one parameter", wallet.ErrValidation)
	}
	tx, ok := params[0].(*sdk.Transaction)
	if !ok {
		return nil, fmt.Errorf("%w: signTransaction parameter must be a transaction", wallet.ErrValidation)
	}
	return tx, nil
}

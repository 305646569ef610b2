package evm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/walletmesh/bridge/internal/wallet"
)

// NativeProvider is the EIP-1193-shaped surface of an EVM wallet handle.
type NativeProvider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// supportedMethods is the set of RPC methods the EVM transport forwards
// to the native handle. Anything else is a configuration error.
var supportedMethods = map[string]struct{}{
	"eth_accounts":               {},
	"eth_chainId":                {},
	"personal_sign":              {},
	"eth_signTypedData_v4":       {},
	"eth_signTransaction":        {},
	"eth_sendTransaction":        {},
	"wallet_switchEthereumChain": {},
	"wallet_addEthereumChain":    {},
	"wallet_requestPermissions":  {},
}

// transport maps EVM RPC-like calls onto the native handle.
type transport struct {
	handle NativeProvider
}

var _ wallet.Transport = (*transport)(nil)

func (t *transport) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if _, ok := supportedMethods[method]; !ok {
		return nil, fmt.Errorf("%w: method %q not supported by EVM transport", wallet.ErrConfiguration, method)
	}
	return t.handle.Request(ctx, method, params...)
}

// rpcHandle adapts a dialed go-ethereum RPC client (an external signer
// endpoint) to the NativeProvider shape.
type rpcHandle struct {
	client *rpc.Client
}

func dialHandle(ctx context.Context, url string) (*rpcHandle, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial signer endpoint: %w", err)
	}
	return &rpcHandle{client: client}, nil
}

func (h *rpcHandle) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := h.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

func (h *rpcHandle) Close() {
	h.client.Close()
}

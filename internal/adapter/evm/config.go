// Package evm provides the EVM wallet adapter. The native handle is an
// EIP-1193-shaped request surface; the well-known injection points are
// JSON-RPC endpoints of external signers dialed with go-ethereum's rpc
// client.
package evm

import "time"

// Config holds the EVM adapter configuration.
type Config struct {
	// Endpoints are the well-known signer endpoints probed in order
	// when no discovered handle has been installed.
	Endpoints []string `yaml:"endpoints"`

	// DefaultChainID is used when a connect request does not name a
	// chain and the wallet does not report one.
	DefaultChainID string `yaml:"default_chain_id"`

	// DialTimeout bounds the endpoint dial during detection.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.DefaultChainID == "" {
		c.DefaultChainID = "0x1"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// chainNames maps well-known EVM chain IDs to display names.
var chainNames = map[string]string{
	"0x1":     "Ethereum Mainnet",
	"0x89":    "Polygon",
	"0xa4b1":  "Arbitrum One",
	"0xa":     "OP Mainnet",
	"0x2105":  "Base",
	"0x38":    "BNB Smart Chain",
	"0xa86a":  "Avalanche C-Chain",
	"0xaa36a7": "Sepolia",
}

// chainName returns the display name for a chain ID, or the ID itself
// when unknown.
func chainName(chainID string) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return chainID
}

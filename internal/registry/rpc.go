package registry

import (
	"fmt"
	"strings"
)

// Default EVM RPC endpoints by chain ID, used whenever config does not
// provide one.
var defaultEVMRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	56:    "https://bsc-dataseed.binance.org",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	43114: "https://api.avax.network/ext/bc/C/rpc",
}

func DefaultEVMRPCURL(chainID int64) (string, bool) {
	value, ok := defaultEVMRPCByChainID[chainID]
	return value, ok
}

func ResolveEVMRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultEVMRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide an rpc url", chainID)
}

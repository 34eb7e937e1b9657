package registry

import (
	"fmt"
	"strings"
)

// Default upstream endpoints. Config, environment and flags can override
// each of them.
const (
	// Jupiter aggregator APIs.
	JupiterSwapBaseURL  = "https://lite-api.jup.ag/swap/v1"
	JupiterPriceBaseURL = "https://lite-api.jup.ag/price/v2"

	// Public Solana JSON-RPC endpoint.
	SolanaMainnetRPCURL = "https://api.mainnet-beta.solana.com"
)

const heliusRPCFormat = "https://mainnet.helius-rpc.com/?api-key=%s"

// SolanaRPCURL resolves the RPC endpoint to use: an explicit override wins,
// then a Helius API key, then the public mainnet endpoint.
func SolanaRPCURL(override, heliusKey string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	if k := strings.TrimSpace(heliusKey); k != "" {
		return fmt.Sprintf(heliusRPCFormat, k)
	}
	return SolanaMainnetRPCURL
}

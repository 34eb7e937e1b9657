package registry

import "strings"

// ERC20Token is a known ERC-20 deployment the EVM balance oracle can
// resolve by symbol.
type ERC20Token struct {
	Symbol   string
	ChainID  int64
	Address  string
	Decimals int
}

// Canonical ERC-20 deployments for the majors. Anything else must be
// addressed directly.
var erc20TokensByChainID = map[int64][]ERC20Token{
	1: {
		{Symbol: "USDC", ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", ChainID: 1, Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		{Symbol: "DAI", ChainID: 1, Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		{Symbol: "WETH", ChainID: 1, Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	137: {
		{Symbol: "USDC", ChainID: 137, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
		{Symbol: "WETH", ChainID: 137, Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	8453: {
		{Symbol: "USDC", ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "WETH", ChainID: 8453, Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	42161: {
		{Symbol: "USDC", ChainID: 42161, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "WETH", ChainID: 42161, Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
}

func ERC20BySymbol(chainID int64, symbol string) (ERC20Token, bool) {
	want := strings.ToUpper(strings.TrimSpace(symbol))
	for _, t := range erc20TokensByChainID[chainID] {
		if t.Symbol == want {
			return t, true
		}
	}
	return ERC20Token{}, false
}

func ERC20Tokens(chainID int64) []ERC20Token {
	src := erc20TokensByChainID[chainID]
	out := make([]ERC20Token, len(src))
	copy(out, src)
	return out
}

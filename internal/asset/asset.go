package asset

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mr-tron/base58"

	planerr "github.com/swapplan/swapplan/internal/errors"
)

// mintPattern matches the base58 shape of a Solana public key. Account
// addresses share the same shape, so the pattern serves both.
var mintPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// fallbackDecimals applies only to mint addresses absent from the registry.
// Unknown symbols never get a default: a wrong silent precision corrupts
// every amount computed from it.
const fallbackDecimals = 9

// Asset is a resolved token: canonical mint plus fixed-point precision.
// Symbol is empty for mints outside the builtin table.
type Asset struct {
	Symbol   string `json:"symbol,omitempty"`
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

type Token struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

// Builtin Solana token table. Production deployments would refresh this
// from the aggregator token list; the builtin set covers the majors.
var tokenRegistry = []Token{
	{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
	{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
	{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
	{Symbol: "ORCA", Mint: "orcaEKTdK7LKz57vaAYr9QeNsVEPfiu6QeMU1kektZE", Decimals: 6},
	{Symbol: "RAY", Mint: "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R", Decimals: 6},
	{Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5},
	{Symbol: "JUP", Mint: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
	{Symbol: "WIF", Mint: "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", Decimals: 6},
	{Symbol: "PYTH", Mint: "HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3", Decimals: 6},
}

var (
	tokenBySymbol = func() map[string]Token {
		out := make(map[string]Token, len(tokenRegistry))
		for _, t := range tokenRegistry {
			out[strings.ToUpper(t.Symbol)] = t
		}
		return out
	}()
	tokenByMint = func() map[string]Token {
		out := make(map[string]Token, len(tokenRegistry))
		for _, t := range tokenRegistry {
			out[t.Mint] = t
		}
		return out
	}()
)

// Resolve maps a symbol or mint address to canonical identity and decimal
// precision. Mint addresses are detected by shape and returned unchanged;
// an unregistered mint keeps the documented fallback of 9 decimals. An
// unregistered symbol is a hard failure.
func Resolve(input string) (Asset, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Asset{}, planerr.New(planerr.KindUnknownAsset, "asset is required")
	}

	if mintPattern.MatchString(raw) {
		if !validPublicKey(raw) {
			return Asset{}, planerr.New(planerr.KindUnknownAsset, fmt.Sprintf("invalid mint address: %s", raw))
		}
		if t, ok := tokenByMint[raw]; ok {
			return Asset{Symbol: t.Symbol, Mint: t.Mint, Decimals: t.Decimals}, nil
		}
		return Asset{Mint: raw, Decimals: fallbackDecimals}, nil
	}

	if t, ok := tokenBySymbol[strings.ToUpper(raw)]; ok {
		return Asset{Symbol: t.Symbol, Mint: t.Mint, Decimals: t.Decimals}, nil
	}

	return Asset{}, planerr.New(
		planerr.KindUnknownAsset,
		fmt.Sprintf("Unknown token %s. Supported tokens: %s", input, strings.Join(SupportedSymbols(), ", ")),
	)
}

// ValidAccountID reports whether the input has the shape of a Solana
// account address: base58, 32 to 44 characters, decoding to a 32-byte key.
func ValidAccountID(input string) bool {
	raw := strings.TrimSpace(input)
	return mintPattern.MatchString(raw) && validPublicKey(raw)
}

func validPublicKey(raw string) bool {
	decoded, err := base58.Decode(raw)
	return err == nil && len(decoded) == 32
}

// SupportedSymbols returns the registered symbols in sorted order.
func SupportedSymbols() []string {
	out := make([]string, 0, len(tokenBySymbol))
	for symbol := range tokenBySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Known returns a copy of the builtin token table sorted by symbol.
func Known() []Token {
	out := make([]Token, len(tokenRegistry))
	copy(out, tokenRegistry)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// IsNative reports whether the asset is native SOL (the wrapped SOL mint).
func (a Asset) IsNative() bool {
	return a.Mint == "So11111111111111111111111111111111111111112"
}

// Display returns the symbol when known, otherwise the mint.
func (a Asset) Display() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Mint
}

package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestJupiterEndpoints(t *testing.T) {
	for _, endpoint := range []string{JupiterSwapBaseURL, JupiterPriceBaseURL, SolanaMainnetRPCURL} {
		if !strings.HasPrefix(endpoint, "https://") {
			t.Fatalf("endpoint %q must be https", endpoint)
		}
		if strings.HasSuffix(endpoint, "/") {
			t.Fatalf("endpoint %q must not carry a trailing slash", endpoint)
		}
	}
}

func TestSolanaRPCURL(t *testing.T) {
	if got := SolanaRPCURL(" https://rpc.example.test ", "key"); got != "https://rpc.example.test" {
		t.Fatalf("override should win: %q", got)
	}
	got := SolanaRPCURL("", "abc123")
	if !strings.Contains(got, "helius-rpc.com") || !strings.Contains(got, "abc123") {
		t.Fatalf("expected helius url with key, got %q", got)
	}
	if got := SolanaRPCURL("", ""); got != SolanaMainnetRPCURL {
		t.Fatalf("expected public mainnet default, got %q", got)
	}
}

func TestERC20MinimalABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20MinimalABI))
	if err != nil {
		t.Fatalf("failed to parse abi json: %v", err)
	}
	for _, method := range []string{"balanceOf", "decimals", "symbol"} {
		if _, ok := parsed.Methods[method]; !ok {
			t.Fatalf("abi missing method %q", method)
		}
	}
}

func TestDefaultEVMRPCURL(t *testing.T) {
	if rpc, ok := DefaultEVMRPCURL(1); !ok || rpc == "" {
		t.Fatalf("expected ethereum rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if rpc, ok := DefaultEVMRPCURL(8453); !ok || rpc == "" {
		t.Fatalf("expected base rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, ok := DefaultEVMRPCURL(999999); ok {
		t.Fatal("did not expect rpc default for unsupported chain")
	}
}

func TestResolveEVMRPCURL(t *testing.T) {
	override, err := ResolveEVMRPCURL(" https://rpc.example.test ", 1)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if override != "https://rpc.example.test" {
		t.Fatalf("unexpected override value: %q", override)
	}

	defaultRPC, err := ResolveEVMRPCURL("", 1)
	if err != nil {
		t.Fatalf("resolve with default: %v", err)
	}
	if defaultRPC == "" {
		t.Fatal("expected non-empty default rpc")
	}

	if _, err := ResolveEVMRPCURL("", 999999); err == nil {
		t.Fatal("expected missing chain default rpc error")
	}
}

func TestERC20BySymbol(t *testing.T) {
	token, ok := ERC20BySymbol(1, "usdc")
	if !ok {
		t.Fatal("expected mainnet usdc to exist")
	}
	if token.Address == "" || token.Decimals != 6 {
		t.Fatalf("unexpected usdc entry: %+v", token)
	}
	if _, ok := ERC20BySymbol(1, "NOPE"); ok {
		t.Fatal("did not expect unknown symbol to resolve")
	}
	if _, ok := ERC20BySymbol(999999, "USDC"); ok {
		t.Fatal("did not expect unsupported chain to resolve")
	}
}

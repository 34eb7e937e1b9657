package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	planerr "github.com/swapplan/swapplan/internal/errors"
)

const (
	testEVMAccount = "0x00000000219ab540356cBB839Cbe05303d7705Fa"

	balanceOfSelector = "0x70a08231"
	decimalsSelector  = "0x313ce567"

	// 2 ETH in wei.
	weiResult = "0x1bc16d674ec80000"
	// 5,000,000 base units, left-padded to one word.
	balanceOfResult = "0x00000000000000000000000000000000000000000000000000000000004c4b40"
	decimalsResult  = "0x0000000000000000000000000000000000000000000000000000000000000006"
)

type evmCallCounts struct {
	getBalance int32
	balanceOf  int32
	decimals   int32
}

func evmServer(t *testing.T, counts *evmCallCounts) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var result string
		switch req.Method {
		case "eth_getBalance":
			atomic.AddInt32(&counts.getBalance, 1)
			result = weiResult
		case "eth_call":
			var msg struct {
				To    string `json:"to"`
				Data  string `json:"data"`
				Input string `json:"input"`
			}
			if len(req.Params) > 0 {
				_ = json.Unmarshal(req.Params[0], &msg)
			}
			data := msg.Input
			if data == "" {
				data = msg.Data
			}
			switch {
			case strings.HasPrefix(data, balanceOfSelector):
				atomic.AddInt32(&counts.balanceOf, 1)
				result = balanceOfResult
			case strings.HasPrefix(data, decimalsSelector):
				atomic.AddInt32(&counts.decimals, 1)
				result = decimalsResult
			default:
				t.Errorf("unexpected eth_call data %q", data)
				result = "0x"
			}
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
			result = "0x"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func TestEVMNativeBalance(t *testing.T) {
	var counts evmCallCounts
	srv := evmServer(t, &counts)
	defer srv.Close()

	oracle, err := NewEVM(1, WithEVMRPCURL(srv.URL))
	if err != nil {
		t.Fatalf("NewEVM: %v", err)
	}
	snap, err := oracle.NativeBalance(context.Background(), testEVMAccount)
	if err != nil {
		t.Fatalf("NativeBalance: %v", err)
	}
	if snap.Amount.String() != "2" {
		t.Fatalf("amount = %s, want 2 ETH", snap.Amount)
	}
	if snap.Decimals != 18 {
		t.Fatalf("decimals = %d, want 18", snap.Decimals)
	}
	if got := atomic.LoadInt32(&counts.getBalance); got != 1 {
		t.Fatalf("eth_getBalance calls = %d, want 1", got)
	}
}

func TestEVMTokenBalanceBySymbolUsesRegistryDecimals(t *testing.T) {
	var counts evmCallCounts
	srv := evmServer(t, &counts)
	defer srv.Close()

	oracle, err := NewEVM(1, WithEVMRPCURL(srv.URL))
	if err != nil {
		t.Fatalf("NewEVM: %v", err)
	}
	snap, err := oracle.TokenBalance(context.Background(), testEVMAccount, "USDC")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if snap.Amount.String() != "5" {
		t.Fatalf("amount = %s, want 5 USDC", snap.Amount)
	}
	if snap.Asset != "USDC" || snap.Decimals != 6 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := atomic.LoadInt32(&counts.decimals); got != 0 {
		t.Fatalf("decimals() calls = %d, want 0 for registry tokens", got)
	}
}

func TestEVMTokenBalanceByAddressFetchesDecimals(t *testing.T) {
	var counts evmCallCounts
	srv := evmServer(t, &counts)
	defer srv.Close()

	oracle, err := NewEVM(1, WithEVMRPCURL(srv.URL))
	if err != nil {
		t.Fatalf("NewEVM: %v", err)
	}
	snap, err := oracle.TokenBalance(context.Background(), testEVMAccount, "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if snap.Amount.String() != "5" {
		t.Fatalf("amount = %s, want 5", snap.Amount)
	}
	if got := atomic.LoadInt32(&counts.decimals); got != 1 {
		t.Fatalf("decimals() calls = %d, want 1 for raw addresses", got)
	}
}

func TestEVMUnknownTokenSymbol(t *testing.T) {
	var counts evmCallCounts
	srv := evmServer(t, &counts)
	defer srv.Close()

	oracle, err := NewEVM(1, WithEVMRPCURL(srv.URL))
	if err != nil {
		t.Fatalf("NewEVM: %v", err)
	}
	_, err = oracle.TokenBalance(context.Background(), testEVMAccount, "NOPE")
	if kind := planerr.KindOf(err); kind != planerr.KindUnknownAsset {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindUnknownAsset)
	}
	if got := atomic.LoadInt32(&counts.balanceOf); got != 0 {
		t.Fatalf("balanceOf calls = %d, want 0", got)
	}
}

func TestEVMInvalidAccount(t *testing.T) {
	oracle, err := NewEVM(1)
	if err != nil {
		t.Fatalf("NewEVM: %v", err)
	}
	_, err = oracle.NativeBalance(context.Background(), "not-an-address")
	if kind := planerr.KindOf(err); kind != planerr.KindUsage {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindUsage)
	}
}

func TestNewEVMUnknownChainNeedsURL(t *testing.T) {
	if _, err := NewEVM(999999); err == nil {
		t.Fatal("expected error for unsupported chain without rpc url")
	}
	if _, err := NewEVM(999999, WithEVMRPCURL("https://rpc.example.test")); err != nil {
		t.Fatalf("explicit rpc url should satisfy unknown chain: %v", err)
	}
}

package balance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swapplan/swapplan/internal/asset"
	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/httpx"
	"github.com/swapplan/swapplan/internal/model"
	"github.com/swapplan/swapplan/internal/registry"
)

// Balances are read at confirmed commitment, same as the planning quotes
// they gate.
const solanaCommitment = "confirmed"

// SolanaOracle reads account balances over Solana JSON-RPC. Native SOL
// comes from getBalance; SPL holdings sum the parsed token accounts the
// owner holds for the mint. Transient RPC failures are retried by the
// shared transport.
type SolanaOracle struct {
	http   *httpx.Client
	rpcURL string
	logger *zap.Logger
	nextID int64
}

type SolanaOption func(*SolanaOracle)

func WithSolanaRPCURL(url string) SolanaOption {
	return func(o *SolanaOracle) {
		if strings.TrimSpace(url) != "" {
			o.rpcURL = strings.TrimSpace(url)
		}
	}
}

func WithSolanaLogger(logger *zap.Logger) SolanaOption {
	return func(o *SolanaOracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewSolana(httpClient *httpx.Client, opts ...SolanaOption) *SolanaOracle {
	o := &SolanaOracle{
		http:   httpClient,
		rpcURL: registry.SolanaMainnetRPCURL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type tokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int    `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

type parsedTokenAccount struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data struct {
			Parsed struct {
				Info struct {
					Mint        string      `json:"mint"`
					TokenAmount tokenAmount `json:"tokenAmount"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"account"`
}

// Balance implements the planner's balance oracle for Solana assets.
func (o *SolanaOracle) Balance(ctx context.Context, accountID string, a asset.Asset) (model.BalanceSnapshot, error) {
	owner := strings.TrimSpace(accountID)
	if !asset.ValidAccountID(owner) {
		return model.BalanceSnapshot{}, planerr.New(planerr.KindUsage, fmt.Sprintf("invalid account address: %s", accountID))
	}

	snap := model.BalanceSnapshot{
		AccountID: owner,
		Asset:     a.Display(),
		Mint:      a.Mint,
		Decimals:  a.Decimals,
		Source:    "solana-rpc",
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if a.IsNative() {
		var result struct {
			Value uint64 `json:"value"`
		}
		params := []any{owner, map[string]string{"commitment": solanaCommitment}}
		if err := o.call(ctx, "getBalance", params, &result); err != nil {
			return model.BalanceSnapshot{}, err
		}
		snap.Amount = decimal.New(int64(result.Value), -9)
		snap.Decimals = 9
		o.logger.Debug("native balance",
			zap.String("account", owner),
			zap.Uint64("lamports", result.Value),
		)
		return snap, nil
	}

	var result struct {
		Value []parsedTokenAccount `json:"value"`
	}
	params := []any{
		owner,
		map[string]string{"mint": a.Mint},
		map[string]string{"encoding": "jsonParsed", "commitment": solanaCommitment},
	}
	if err := o.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return model.BalanceSnapshot{}, err
	}

	// An owner may split a mint across several token accounts; the
	// spendable balance is their sum. No accounts means zero, not an error.
	total := decimal.Zero
	for _, acct := range result.Value {
		ta := acct.Account.Data.Parsed.Info.TokenAmount
		amt, err := parseTokenAmount(ta)
		if err != nil {
			return model.BalanceSnapshot{}, err
		}
		total = total.Add(amt)
		if ta.Decimals > 0 {
			snap.Decimals = ta.Decimals
		}
	}
	snap.Amount = total
	o.logger.Debug("token balance",
		zap.String("account", owner),
		zap.String("mint", a.Mint),
		zap.Int("token_accounts", len(result.Value)),
		zap.String("amount", total.String()),
	)
	return snap, nil
}

func (o *SolanaOracle) call(ctx context.Context, method string, params []any, out any) error {
	id := atomic.AddInt64(&o.nextID, 1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return planerr.Wrap(planerr.KindInternal, "encode rpc request", err)
	}
	var envelope rpcEnvelope
	if _, err := httpx.DoBodyJSON(ctx, o.http, http.MethodPost, o.rpcURL, payload, nil, &envelope); err != nil {
		return classifyRPC(err)
	}
	if envelope.Error != nil {
		return planerr.New(planerr.KindUpstreamUnavailable,
			fmt.Sprintf("Solana RPC error: %s", envelope.Error.Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return planerr.Wrap(planerr.KindUpstreamUnavailable, "decode rpc result", err)
	}
	return nil
}

// classifyRPC maps transport failures onto the error taxonomy. The RPC
// node is infrastructure: any way it misbehaves is an upstream outage.
func classifyRPC(err error) error {
	if typed, ok := planerr.As(err); ok {
		return typed
	}
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		return planerr.New(planerr.KindUpstreamUnavailable,
			fmt.Sprintf("Solana RPC error (status %d)", statusErr.StatusCode))
	}
	var decodeErr *httpx.DecodeError
	if errors.As(err, &decodeErr) {
		return planerr.Wrap(planerr.KindUpstreamUnavailable, "malformed rpc response", decodeErr)
	}
	return planerr.Wrap(planerr.KindUpstreamUnavailable, "solana rpc request failed", err)
}

func parseTokenAmount(ta tokenAmount) (decimal.Decimal, error) {
	if s := strings.TrimSpace(ta.UIAmountString); s != "" {
		if v, err := decimal.NewFromString(s); err == nil {
			return v, nil
		}
	}
	raw, err := decimal.NewFromString(ta.Amount)
	if err != nil {
		return decimal.Decimal{}, planerr.Wrap(planerr.KindUpstreamUnavailable, "malformed token amount in rpc response", err)
	}
	return raw.Shift(-int32(ta.Decimals)), nil
}

package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/model"
	"github.com/swapplan/swapplan/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EVMOracle reads native and ERC-20 balances over an EVM JSON-RPC
// endpoint. It dials per call so one oracle value serves any chain the
// registry knows.
type EVMOracle struct {
	chainID int64
	rpcURL  string
	logger  *zap.Logger
}

type EVMOption func(*EVMOracle)

func WithEVMRPCURL(url string) EVMOption {
	return func(o *EVMOracle) {
		if strings.TrimSpace(url) != "" {
			o.rpcURL = strings.TrimSpace(url)
		}
	}
}

func WithEVMLogger(logger *zap.Logger) EVMOption {
	return func(o *EVMOracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewEVM(chainID int64, opts ...EVMOption) (*EVMOracle, error) {
	o := &EVMOracle{chainID: chainID, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.rpcURL == "" {
		url, err := registry.ResolveEVMRPCURL("", chainID)
		if err != nil {
			return nil, planerr.Wrap(planerr.KindUsage, "resolve evm rpc", err)
		}
		o.rpcURL = url
	}
	return o, nil
}

// NativeBalance returns the account's native coin balance in whole units
// (wei shifted by 18).
func (o *EVMOracle) NativeBalance(ctx context.Context, account string) (model.BalanceSnapshot, error) {
	addr, err := parseEVMAddress(account)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	client, err := ethclient.DialContext(ctx, o.rpcURL)
	if err != nil {
		return model.BalanceSnapshot{}, planerr.Wrap(planerr.KindUpstreamUnavailable, "connect evm rpc", err)
	}
	defer client.Close()

	wei, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return model.BalanceSnapshot{}, planerr.Wrap(planerr.KindUpstreamUnavailable, "read native balance", err)
	}
	o.logger.Debug("evm native balance",
		zap.Int64("chain_id", o.chainID),
		zap.String("account", addr.Hex()),
		zap.String("wei", wei.String()),
	)
	return model.BalanceSnapshot{
		AccountID: addr.Hex(),
		Asset:     "ETH",
		Amount:    decimal.NewFromBigInt(wei, -18),
		Decimals:  18,
		Source:    "evm-rpc",
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// TokenBalance returns the account's ERC-20 balance. The token may be a
// registry symbol or a contract address; for raw addresses the decimals
// come from the contract itself.
func (o *EVMOracle) TokenBalance(ctx context.Context, account, token string) (model.BalanceSnapshot, error) {
	addr, err := parseEVMAddress(account)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	var (
		tokenAddr common.Address
		symbol    string
		decimals  = -1
	)
	switch {
	case common.IsHexAddress(strings.TrimSpace(token)):
		tokenAddr = common.HexToAddress(strings.TrimSpace(token))
		symbol = tokenAddr.Hex()
	default:
		entry, ok := registry.ERC20BySymbol(o.chainID, token)
		if !ok {
			return model.BalanceSnapshot{}, planerr.New(planerr.KindUnknownAsset,
				fmt.Sprintf("Unknown token %s on chain %d", token, o.chainID))
		}
		tokenAddr = common.HexToAddress(entry.Address)
		symbol = entry.Symbol
		decimals = entry.Decimals
	}

	client, err := ethclient.DialContext(ctx, o.rpcURL)
	if err != nil {
		return model.BalanceSnapshot{}, planerr.Wrap(planerr.KindUpstreamUnavailable, "connect evm rpc", err)
	}
	defer client.Close()

	raw, err := o.callERC20(ctx, client, tokenAddr, "balanceOf", addr)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	bal, ok := raw.(*big.Int)
	if !ok {
		return model.BalanceSnapshot{}, planerr.New(planerr.KindUpstreamUnavailable, "invalid balanceOf response")
	}

	if decimals < 0 {
		raw, err := o.callERC20(ctx, client, tokenAddr, "decimals")
		if err != nil {
			return model.BalanceSnapshot{}, err
		}
		d, ok := raw.(uint8)
		if !ok {
			return model.BalanceSnapshot{}, planerr.New(planerr.KindUpstreamUnavailable, "invalid decimals response")
		}
		decimals = int(d)
	}

	o.logger.Debug("evm token balance",
		zap.Int64("chain_id", o.chainID),
		zap.String("account", addr.Hex()),
		zap.String("token", tokenAddr.Hex()),
		zap.String("raw", bal.String()),
		zap.Int("decimals", decimals),
	)
	return model.BalanceSnapshot{
		AccountID: addr.Hex(),
		Asset:     symbol,
		Mint:      tokenAddr.Hex(),
		Amount:    decimal.NewFromBigInt(bal, -int32(decimals)),
		Decimals:  decimals,
		Source:    "evm-rpc",
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (o *EVMOracle) callERC20(ctx context.Context, client *ethclient.Client, token common.Address, method string, args ...any) (any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, planerr.Wrap(planerr.KindInternal, fmt.Sprintf("pack %s call", method), err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, planerr.Wrap(planerr.KindUpstreamUnavailable, fmt.Sprintf("call %s", method), err)
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, planerr.Wrap(planerr.KindUpstreamUnavailable, fmt.Sprintf("decode %s response", method), err)
	}
	return values[0], nil
}

func parseEVMAddress(account string) (common.Address, error) {
	trimmed := strings.TrimSpace(account)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, planerr.New(planerr.KindUsage,
			fmt.Sprintf("invalid evm account address: %s", account))
	}
	return common.HexToAddress(trimmed), nil
}

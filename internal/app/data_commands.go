package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/swapplan/swapplan/internal/asset"
	"github.com/swapplan/swapplan/internal/balance"
	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/model"
	"github.com/swapplan/swapplan/internal/registry"
	"github.com/swapplan/swapplan/internal/store"
)

func (s *runtimeState) newPriceCommand() *cobra.Command {
	var tokenArg string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "USDC price for a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			quote, cacheStatus, err := s.prices.Lookup(cmd.Context(), tokenArg)
			var ups []model.UpstreamStatus
			if cacheStatus.Status != "hit" {
				ups = []model.UpstreamStatus{{
					Name:      "jupiter",
					Status:    statusFromErr(err),
					LatencyMS: time.Since(start).Milliseconds(),
				}}
			}
			s.lastUpstreams = ups
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), quote, nil, cacheStatus, ups)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token symbol or mint")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (s *runtimeState) newBalanceCommand() *cobra.Command {
	var accountArg, assetArg, chainArg string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Live balance for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain := strings.ToLower(strings.TrimSpace(chainArg))
			if chain == "" || chain == "solana" {
				return s.solanaBalance(cmd, accountArg, assetArg)
			}
			chainID, err := strconv.ParseInt(chain, 10, 64)
			if err != nil {
				return planerr.New(planerr.KindUsage,
					fmt.Sprintf("unsupported chain %q (use solana or an EVM chain id)", chainArg))
			}
			return s.evmBalance(cmd, chainID, accountArg, assetArg)
		},
	}
	cmd.Flags().StringVar(&accountArg, "account", "", "Account address")
	cmd.Flags().StringVar(&assetArg, "asset", "", "Token symbol, mint or contract address (empty for the chain's native asset)")
	cmd.Flags().StringVar(&chainArg, "chain", "solana", "solana or an EVM chain id (1, 137, 8453, ...)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (s *runtimeState) solanaBalance(cmd *cobra.Command, account, assetArg string) error {
	if strings.TrimSpace(assetArg) == "" {
		assetArg = "SOL"
	}
	a, err := asset.Resolve(assetArg)
	if err != nil {
		return err
	}

	start := time.Now()
	snap, err := s.solana.Balance(cmd.Context(), account, a)
	ups := []model.UpstreamStatus{{
		Name:      "solana-rpc",
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	}}
	s.lastUpstreams = ups
	if err != nil {
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), snap, nil, cacheMetaBypass(), ups)
}

func (s *runtimeState) evmBalance(cmd *cobra.Command, chainID int64, account, assetArg string) error {
	opts := []balance.EVMOption{balance.WithEVMLogger(s.logger)}
	if s.settings.EVMRPCURL != "" {
		opts = append(opts, balance.WithEVMRPCURL(s.settings.EVMRPCURL))
	}
	oracle, err := balance.NewEVM(chainID, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	var snap model.BalanceSnapshot
	if strings.TrimSpace(assetArg) == "" || strings.EqualFold(assetArg, "eth") {
		snap, err = oracle.NativeBalance(cmd.Context(), account)
	} else {
		snap, err = oracle.TokenBalance(cmd.Context(), account, assetArg)
	}
	ups := []model.UpstreamStatus{{
		Name:      "evm-rpc",
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	}}
	s.lastUpstreams = ups
	if err != nil {
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), snap, nil, cacheMetaBypass(), ups)
}

func (s *runtimeState) newAssetsCommand() *cobra.Command {
	root := &cobra.Command{Use: "assets", Short: "Token registry"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List tokens known to the planner",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{
				"solana": asset.Known(),
				"evm":    registry.ERC20Tokens(s.settings.EVMChainID),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	root := &cobra.Command{Use: "history", Short: "Past planning cycles"}

	var statusArg string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored plan receipts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := strings.ToLower(strings.TrimSpace(statusArg))
			switch status {
			case "", model.PlanStatusDone, model.PlanStatusCancelled, model.PlanStatusFailed:
			default:
				return planerr.New(planerr.KindUsage,
					fmt.Sprintf("unknown status %q (done, cancelled or failed)", statusArg))
			}
			receipts, err := s.plans.List(status, limit)
			if err != nil {
				return planerr.Wrap(planerr.KindInternal, "list plans", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), receipts, nil, cacheMetaBypass(), nil)
		},
	}
	list.Flags().StringVar(&statusArg, "status", "", "Filter by status (done, cancelled, failed)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum receipts to return")

	show := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show one stored plan receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := s.plans.Get(args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return planerr.New(planerr.KindUsage, fmt.Sprintf("plan %s not found", args[0]))
				}
				return planerr.Wrap(planerr.KindInternal, "load plan", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), receipt, nil, cacheMetaBypass(), nil)
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/model"
	"github.com/swapplan/swapplan/internal/out"
	"github.com/swapplan/swapplan/internal/plan"
)

func (s *runtimeState) newPlanCommand() *cobra.Command {
	var accountArg, fromArg, toArg, amountArg, percentArg string
	var approve bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a swap: balance check, routing, simulation, approval gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := s.buildTradeRequest(accountArg, fromArg, toArg, amountArg, percentArg, approve)
			if err != nil {
				return err
			}
			result := s.planner.Run(cmd.Context(), req)
			if s.plans != nil {
				if err := s.plans.Save(result.Receipt()); err != nil {
					s.logger.Warn("persist plan receipt",
						zap.String("plan_id", result.PlanID),
						zap.Error(err),
					)
				}
			}
			return s.emitPlanResult(trimRootPath(cmd.CommandPath()), result)
		},
	}
	cmd.Flags().StringVar(&accountArg, "account", "", "Wallet address the swap spends from")
	cmd.Flags().StringVar(&fromArg, "from", "", "Source token (symbol or mint)")
	cmd.Flags().StringVar(&toArg, "to", "", "Destination token (symbol or mint)")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Fixed amount of the source token")
	cmd.Flags().StringVar(&percentArg, "percent", "", "Percentage of the live source balance to swap")
	cmd.Flags().BoolVar(&approve, "approve", false, "Carry an approval for an above-threshold swap")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var fromArg, toArg, amountArg string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch and rank candidate routes without planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parsePositiveDecimal(amountArg, "--amount")
			if err != nil {
				return err
			}
			start := time.Now()
			routes, err := s.quotes.Routes(cmd.Context(), fromArg, toArg, amount, s.settings.SlippageBps)
			ups := []model.UpstreamStatus{{
				Name:      "jupiter",
				Status:    statusFromErr(err),
				LatencyMS: time.Since(start).Milliseconds(),
			}}
			s.lastUpstreams = ups
			if err != nil {
				return err
			}
			best, err := plan.Rank(routes)
			if err != nil {
				return err
			}
			data := map[string]any{
				"best_route": best,
				"candidates": routes,
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), ups)
		},
	}
	cmd.Flags().StringVar(&fromArg, "from", "", "Source token (symbol or mint)")
	cmd.Flags().StringVar(&toArg, "to", "", "Destination token (symbol or mint)")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Amount of the source token")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) buildTradeRequest(account, from, to, amountArg, percentArg string, approved bool) (model.TradeRequest, error) {
	req := model.TradeRequest{
		AccountID:   strings.TrimSpace(account),
		SourceAsset: strings.TrimSpace(from),
		DestAsset:   strings.TrimSpace(to),
		SlippageBps: s.settings.SlippageBps,
		Approved:    approved,
	}
	if req.AccountID == "" {
		return model.TradeRequest{}, planerr.New(planerr.KindUsage, "--account is required")
	}
	if req.SourceAsset == "" || req.DestAsset == "" {
		return model.TradeRequest{}, planerr.New(planerr.KindUsage, "--from and --to are required")
	}

	var err error
	if req.Amount, err = parseNullDecimal(amountArg, "--amount"); err != nil {
		return model.TradeRequest{}, err
	}
	if req.Percentage, err = parseNullDecimal(percentArg, "--percent"); err != nil {
		return model.TradeRequest{}, err
	}
	return req, nil
}

// emitPlanResult renders the full cycle outcome on stdout even when the
// cycle failed; the stage trail is the product. The process exit code
// still reflects the failure kind.
func (s *runtimeState) emitPlanResult(commandPath string, result *plan.Result) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  result.OK,
		Data:     result,
		Warnings: result.Warnings,
		Meta:     s.meta(commandPath, nil, cacheMetaBypass()),
	}
	if err := result.Err(); err != nil {
		env.Error = &model.ErrorBody{
			Code:    planerr.ExitCode(err),
			Kind:    string(planerr.KindOf(err)),
			Message: planerr.UserMessage(err),
		}
		s.exitCode = planerr.ExitCode(err)
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func parseNullDecimal(v, flag string) (decimal.NullDecimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, planerr.Wrap(planerr.KindInvalidAmount, fmt.Sprintf("parse %s", flag), err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func parsePositiveDecimal(v, flag string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Decimal{}, planerr.Wrap(planerr.KindInvalidAmount, fmt.Sprintf("parse %s", flag), err)
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, planerr.New(planerr.KindInvalidAmount, "Amount must be greater than 0")
	}
	return d, nil
}

package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swapplan/swapplan/internal/asset"
	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/model"
)

// defaultGasEstimate is the compute-unit placeholder attached to
// simulations; the actual cost is determined at execution.
const defaultGasEstimate = 200000

// BalanceOracle reports an account's spendable balance for an asset.
type BalanceOracle interface {
	Balance(ctx context.Context, accountID string, a asset.Asset) (model.BalanceSnapshot, error)
}

// QuoteService discovers candidate routes and re-quotes a pair right
// before commitment.
type QuoteService interface {
	Routes(ctx context.Context, source, dest string, amount decimal.Decimal, slippageBps int) ([]model.Quote, error)
	GetQuote(ctx context.Context, source, dest string, amount decimal.Decimal, slippageBps int) (model.Quote, error)
}

// ArtifactBuilder turns a quote into a signable execution artifact.
type ArtifactBuilder interface {
	BuildSwapTransaction(ctx context.Context, accountID string, quote model.Quote) (model.ExecutionArtifact, error)
}

// PriceOracle values an asset in the quote currency.
type PriceOracle interface {
	TokenPrice(ctx context.Context, token string) (model.PriceQuote, error)
}

// Planner drives one trade request through the planning state machine:
// balance check, route discovery, ranking, simulation, the approval gate
// and finally execution or cancellation. Stages run strictly in sequence;
// any classified error absorbs the cycle into the failed state. Retry never
// happens here; it lives at the network boundary inside the quote client.
type Planner struct {
	balances  BalanceOracle
	quotes    QuoteService
	builder   ArtifactBuilder
	prices    PriceOracle
	threshold decimal.Decimal
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Planner)

// WithPriceOracle enables valuing the destination amount in the quote
// currency for the approval gate. Without it the raw output amount stands
// in for the value.
func WithPriceOracle(prices PriceOracle) Option {
	return func(p *Planner) { p.prices = prices }
}

func WithApprovalThreshold(threshold decimal.Decimal) Option {
	return func(p *Planner) {
		if threshold.Sign() > 0 {
			p.threshold = threshold
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(balances BalanceOracle, quotes QuoteService, builder ArtifactBuilder, opts ...Option) *Planner {
	p := &Planner{
		balances:  balances,
		quotes:    quotes,
		builder:   builder,
		threshold: decimal.NewFromInt(DefaultApprovalThreshold),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one planning cycle. The returned result always carries the
// full stage trail; a classified failure is embedded rather than returned,
// so callers handle every error kind through the result.
func (p *Planner) Run(ctx context.Context, req model.TradeRequest) *Result {
	state := NewState(req)
	p.logger.Info("planning swap",
		zap.String("plan_id", state.ID),
		zap.String("account", req.AccountID),
		zap.String("source", req.SourceAsset),
		zap.String("dest", req.DestAsset),
	)

	p.checkBalance(ctx, state)
	if state.err == nil {
		p.fetchRoutes(ctx, state)
	}
	if state.err == nil {
		p.rankRoutes(state)
	}
	if state.err == nil {
		p.simulate(ctx, state)
	}
	if state.err == nil {
		p.gateApproval(state)
	}
	if state.err == nil && state.UserApproved {
		p.execute(state)
	}
	return p.finish(state)
}

// checkBalance resolves the concrete trade amount (fixed or percentage of
// the live balance) and verifies the account can cover it.
func (p *Planner) checkBalance(ctx context.Context, state *State) {
	rec := state.begin(StageCheckingBalance)
	req := state.Request

	if req.Amount.Valid == req.Percentage.Valid {
		state.fail(rec, planerr.New(planerr.KindInvalidAmount, "Exactly one of amount or percentage must be provided"))
		return
	}

	src, err := asset.Resolve(req.SourceAsset)
	if err != nil {
		state.fail(rec, err)
		return
	}

	snap, err := p.balances.Balance(ctx, req.AccountID, src)
	if err != nil {
		state.fail(rec, reclassify("Failed to check balance", err))
		return
	}
	state.Balance = &snap

	balance := snap.Amount
	var required decimal.Decimal
	if req.Percentage.Valid {
		pct := req.Percentage.Decimal
		if pct.Sign() <= 0 {
			state.fail(rec, planerr.New(planerr.KindInvalidAmount, "Percentage must be greater than 0"))
			return
		}
		required = balance.Mul(pct.Shift(-2))
	} else {
		required = req.Amount.Decimal
		if required.Sign() <= 0 {
			state.fail(rec, planerr.New(planerr.KindInvalidAmount, "Amount must be greater than 0"))
			return
		}
	}
	state.ResolvedAmount = required
	state.SufficientFunds = balance.GreaterThanOrEqual(required)

	p.logger.Info("balance check",
		zap.String("plan_id", state.ID),
		zap.String("balance", balance.String()),
		zap.String("required", required.String()),
		zap.Bool("sufficient", state.SufficientFunds),
	)

	if !state.SufficientFunds {
		state.fail(rec, planerr.New(planerr.KindInsufficientBalance,
			fmt.Sprintf("Insufficient balance. Have %s %s, need %s %s",
				balance, req.SourceAsset, required, req.SourceAsset)))
		return
	}
	state.complete(rec, fmt.Sprintf("balance %s, required %s", balance, required))
}

func (p *Planner) fetchRoutes(ctx context.Context, state *State) {
	rec := state.begin(StageFetchingRoutes)
	req := state.Request

	routes, err := p.quotes.Routes(ctx, req.SourceAsset, req.DestAsset, state.ResolvedAmount, req.SlippageBps)
	if err != nil {
		state.fail(rec, reclassify("Failed to fetch routes", err))
		return
	}
	if len(routes) == 0 {
		state.fail(rec, planerr.New(planerr.KindNoRouteAvailable, "No routes available"))
		return
	}
	state.Candidates = routes
	state.complete(rec, fmt.Sprintf("%d candidate route(s)", len(routes)))
	p.logger.Info("routes fetched", zap.String("plan_id", state.ID), zap.Int("count", len(routes)))
}

func (p *Planner) rankRoutes(state *State) {
	rec := state.begin(StageRankingRoutes)

	selected, err := Rank(state.Candidates)
	if err != nil {
		state.fail(rec, err)
		return
	}
	state.Selected = &selected
	state.complete(rec, fmt.Sprintf("route %s, score %s", selected.Route, selected.Score))
	p.logger.Info("selected best route",
		zap.String("plan_id", state.ID),
		zap.String("route", selected.Route),
		zap.String("amount_out", selected.Out.AmountDecimal.String()),
		zap.String("price_impact_bps", selected.PriceImpactBps.String()),
	)
}

// simulate re-quotes the pair and asks for a signable artifact in one pass;
// fresh numbers land in the simulation while the ranked selection stands.
func (p *Planner) simulate(ctx context.Context, state *State) {
	rec := state.begin(StageSimulating)
	req := state.Request

	quote, err := p.quotes.GetQuote(ctx, req.SourceAsset, req.DestAsset, state.ResolvedAmount, req.SlippageBps)
	if err != nil {
		state.Simulation = &model.SimulationResult{Succeeded: false, Logs: []string{}, Error: err.Error()}
		state.fail(rec, reclassify("Simulation failed", err))
		return
	}

	artifact, err := p.builder.BuildSwapTransaction(ctx, req.AccountID, quote)
	if err != nil {
		state.Simulation = &model.SimulationResult{Succeeded: false, Logs: []string{}, Error: err.Error()}
		state.fail(rec, reclassify("Simulation failed", err))
		return
	}

	sim := model.SimulationResult{
		Succeeded:            true,
		SourceAsset:          quote.SourceAsset,
		DestAsset:            quote.DestAsset,
		AmountIn:             quote.In.AmountDecimal,
		AmountOut:            quote.Out.AmountDecimal,
		PriceImpactBps:       quote.PriceImpactBps,
		GasEstimate:          defaultGasEstimate,
		Logs:                 []string{},
		SignableTransaction:  artifact.SignableTransaction,
		LastValidBlockHeight: artifact.LastValidBlockHeight,
	}
	p.estimateValue(ctx, &sim, state)
	state.Simulation = &sim
	state.complete(rec, fmt.Sprintf("amount_out %s %s, value %s %s",
		sim.AmountOut, sim.DestAsset, sim.EstimatedValue, sim.ValueCurrency))
	p.logger.Info("simulation succeeded",
		zap.String("plan_id", state.ID),
		zap.String("amount_out", sim.AmountOut.String()),
		zap.String("estimated_value", sim.EstimatedValue.String()),
	)
}

// estimateValue prices the destination amount in the quote currency. When
// no price is available the raw output amount stands in, with a warning,
// so the approval gate still has something to compare against.
func (p *Planner) estimateValue(ctx context.Context, sim *model.SimulationResult, state *State) {
	if p.prices != nil {
		pq, err := p.prices.TokenPrice(ctx, sim.DestAsset)
		if err == nil {
			sim.EstimatedValue = sim.AmountOut.Mul(pq.Price)
			sim.ValueCurrency = pq.VsAsset
			return
		}
		state.warn(fmt.Sprintf("price lookup failed for %s; approval threshold applied to raw output amount", sim.DestAsset))
	}
	sim.EstimatedValue = sim.AmountOut
	sim.ValueCurrency = sim.DestAsset
}

// gateApproval applies the approval policy. Below-threshold trades proceed
// on their own; everything else needs an approval signal carried by the
// request, and without one the cycle stops here. Waiting for a human is
// the caller's job, via a later cycle with the approval set.
func (p *Planner) gateApproval(state *State) {
	rec := state.begin(StageAwaitingApproval)

	state.ApprovalNeeded = RequiresManualApproval(*state.Simulation, p.threshold)
	if !state.ApprovalNeeded {
		state.UserApproved = true
		state.Metadata["auto_approved"] = true
		state.complete(rec, "auto-approved below value threshold")
		p.logger.Info("auto-approved low-value swap", zap.String("plan_id", state.ID))
		return
	}

	if state.Request.Approved {
		state.UserApproved = true
		state.Metadata["user_approved"] = true
		state.complete(rec, "approved by caller")
		p.logger.Info("swap approved by caller", zap.String("plan_id", state.ID))
		return
	}

	state.UserApproved = false
	state.Metadata["awaiting_user_approval"] = true
	state.halt(rec, "awaiting manual approval")
	p.logger.Info("awaiting manual approval for high-value swap", zap.String("plan_id", state.ID))
}

// execute attaches the signable artifact. Submission, signing and
// confirmation are the caller's responsibility.
func (p *Planner) execute(state *State) {
	rec := state.begin(StageExecuting)
	state.complete(rec, "signable artifact ready for submission")
	p.logger.Info("execution artifact attached", zap.String("plan_id", state.ID))
}

func (p *Planner) finish(state *State) *Result {
	res := &Result{
		PlanID:                 state.ID,
		Request:                state.Request,
		Balance:                state.Balance,
		SelectedRoute:          state.Selected,
		Simulation:             state.Simulation,
		RequiresManualApproval: state.ApprovalNeeded,
		AutoApproved:           !state.ApprovalNeeded && state.UserApproved,
		Warnings:               state.Warnings,
		Stages:                 state.Trail,
		CreatedAt:              state.CreatedAt,
		FinishedAt:             p.now().UTC(),
		err:                    state.err,
	}

	switch {
	case state.err != nil:
		state.Stage = StageFailed
		state.Metadata["error_handled"] = true
		state.Metadata["error_message"] = state.err.Error()
		res.Status = model.PlanStatusFailed
		res.Error = &ResultError{
			Kind:    string(planerr.KindOf(state.err)),
			Message: planerr.UserMessage(state.err),
		}
		p.logger.Error("planning failed",
			zap.String("plan_id", state.ID),
			zap.String("kind", res.Error.Kind),
			zap.Error(state.err),
		)
	case !state.UserApproved:
		state.Stage = StageCancelled
		res.Status = model.PlanStatusCancelled
		res.OK = true
	default:
		state.Stage = StageDone
		res.Status = model.PlanStatusDone
		res.OK = true
		if state.Simulation != nil {
			res.SignableTransaction = state.Simulation.SignableTransaction
		}
	}
	return res
}

// reclassify keeps a collaborator error's kind while prefixing the stage's
// own message; untyped errors become internal.
func reclassify(msg string, err error) error {
	if typed, ok := planerr.As(err); ok {
		return planerr.Wrap(typed.Kind, msg, err)
	}
	return planerr.Wrap(planerr.KindInternal, msg, err)
}

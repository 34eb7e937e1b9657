package plan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swapplan/swapplan/internal/asset"
	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/httpx"
	"github.com/swapplan/swapplan/internal/jupiter"
	"github.com/swapplan/swapplan/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func snapshot(amount string) model.BalanceSnapshot {
	return model.BalanceSnapshot{
		AccountID: "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		Asset:     "USDC",
		Amount:    dec(amount),
		Decimals:  6,
		Source:    "test",
	}
}

func routeQuote(label, outHuman, impactBps string) model.Quote {
	out := dec(outHuman)
	return model.Quote{
		Provider:       "jupiter",
		SourceAsset:    "USDC",
		DestAsset:      "SOL",
		In:             model.AmountInfo{AmountDecimal: dec("20"), Decimals: 6},
		Out:            model.AmountInfo{AmountBaseUnits: out.Shift(9).String(), AmountDecimal: out, Decimals: 9},
		PriceImpactBps: dec(impactBps),
		SlippageBps:    50,
		Route:          label,
	}
}

type fakeBalances struct {
	snap  model.BalanceSnapshot
	err   error
	calls int32
}

func (f *fakeBalances) Balance(ctx context.Context, accountID string, a asset.Asset) (model.BalanceSnapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return model.BalanceSnapshot{}, f.err
	}
	return f.snap, nil
}

type fakeQuotes struct {
	routes      []model.Quote
	routesErr   error
	quote       model.Quote
	quoteErr    error
	routesCalls int32
	quoteCalls  int32
	lastAmount  decimal.Decimal
}

func (f *fakeQuotes) Routes(ctx context.Context, source, dest string, amount decimal.Decimal, slippageBps int) ([]model.Quote, error) {
	atomic.AddInt32(&f.routesCalls, 1)
	f.lastAmount = amount
	if f.routesErr != nil {
		return nil, f.routesErr
	}
	return f.routes, nil
}

func (f *fakeQuotes) GetQuote(ctx context.Context, source, dest string, amount decimal.Decimal, slippageBps int) (model.Quote, error) {
	atomic.AddInt32(&f.quoteCalls, 1)
	if f.quoteErr != nil {
		return model.Quote{}, f.quoteErr
	}
	return f.quote, nil
}

type fakeBuilder struct {
	artifact model.ExecutionArtifact
	err      error
	calls    int32
}

func (f *fakeBuilder) BuildSwapTransaction(ctx context.Context, accountID string, quote model.Quote) (model.ExecutionArtifact, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return model.ExecutionArtifact{}, f.err
	}
	return f.artifact, nil
}

type fakePrices struct {
	price decimal.Decimal
	err   error
}

func (f *fakePrices) TokenPrice(ctx context.Context, token string) (model.PriceQuote, error) {
	if f.err != nil {
		return model.PriceQuote{}, f.err
	}
	return model.PriceQuote{Asset: token, VsAsset: "USDC", Price: f.price}, nil
}

func request(amount string) model.TradeRequest {
	return model.TradeRequest{
		AccountID:   "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		SourceAsset: "USDC",
		DestAsset:   "SOL",
		Amount:      decimal.NewNullDecimal(dec(amount)),
		SlippageBps: 50,
	}
}

func TestRunLowValueSwapCompletesAutoApproved(t *testing.T) {
	best := routeQuote("Whirlpool", "0.098", "40")
	quotes := &fakeQuotes{routes: []model.Quote{best}, quote: best}
	builder := &fakeBuilder{artifact: model.ExecutionArtifact{SignableTransaction: "AQID", LastValidBlockHeight: 99}}
	p := New(
		&fakeBalances{snap: snapshot("50")},
		quotes,
		builder,
		WithPriceOracle(&fakePrices{price: dec("147.25")}),
	)

	res := p.Run(context.Background(), request("20"))

	if !res.OK || res.Err() != nil {
		t.Fatalf("result not ok: %+v err=%v", res, res.Err())
	}
	if res.Status != model.PlanStatusDone {
		t.Fatalf("status = %q, want done", res.Status)
	}
	if res.RequiresManualApproval {
		t.Fatal("low-value swap must not require manual approval")
	}
	if !res.AutoApproved {
		t.Fatal("expected auto approval")
	}
	if res.SignableTransaction != "AQID" {
		t.Fatalf("signable transaction = %q, want attached artifact", res.SignableTransaction)
	}
	if res.Simulation == nil || !res.Simulation.Succeeded {
		t.Fatalf("expected successful simulation, got %+v", res.Simulation)
	}
	if res.Simulation.GasEstimate != 200000 {
		t.Fatalf("gas estimate = %d, want default compute units", res.Simulation.GasEstimate)
	}
	if res.Simulation.LastValidBlockHeight != 99 {
		t.Fatalf("expiry marker = %d", res.Simulation.LastValidBlockHeight)
	}
	if got := atomic.LoadInt32(&builder.calls); got != 1 {
		t.Fatalf("builder calls = %d, want 1", got)
	}

	wantStages := []Stage{
		StageCheckingBalance,
		StageFetchingRoutes,
		StageRankingRoutes,
		StageSimulating,
		StageAwaitingApproval,
		StageExecuting,
	}
	if len(res.Stages) != len(wantStages) {
		t.Fatalf("stage trail = %+v, want %v", res.Stages, wantStages)
	}
	for i, rec := range res.Stages {
		if rec.Stage != wantStages[i] {
			t.Fatalf("stage[%d] = %q, want %q", i, rec.Stage, wantStages[i])
		}
		if rec.Status != StageStatusCompleted {
			t.Fatalf("stage %q status = %q, want completed", rec.Stage, rec.Status)
		}
	}
}

func TestRunHighValueSwapHaltsForApproval(t *testing.T) {
	best := routeQuote("Whirlpool", "6.8", "120")
	quotes := &fakeQuotes{routes: []model.Quote{best}, quote: best}
	builder := &fakeBuilder{artifact: model.ExecutionArtifact{SignableTransaction: "AQID"}}
	p := New(
		&fakeBalances{snap: snapshot("1500")},
		quotes,
		builder,
		WithPriceOracle(&fakePrices{price: dec("147.25")}),
	)

	req := request("1000")
	res := p.Run(context.Background(), req)

	if res.Err() != nil {
		t.Fatalf("unexpected error: %v", res.Err())
	}
	if res.Status != model.PlanStatusCancelled {
		t.Fatalf("status = %q, want cancelled", res.Status)
	}
	if !res.RequiresManualApproval {
		t.Fatal("expected manual approval requirement")
	}
	if res.AutoApproved {
		t.Fatal("high-value swap must not auto-approve")
	}
	if res.SignableTransaction != "" {
		t.Fatal("artifact must not be consumed before approval")
	}
	if res.Simulation == nil || res.Simulation.SignableTransaction == "" {
		t.Fatal("simulation should still carry the built artifact for later approval")
	}
	last := res.Stages[len(res.Stages)-1]
	if last.Stage != StageAwaitingApproval || last.Status != StageStatusHalted {
		t.Fatalf("last stage = %+v, want halted awaiting_approval", last)
	}

	// A later cycle carrying the caller's approval executes.
	req.Approved = true
	res = p.Run(context.Background(), req)
	if res.Status != model.PlanStatusDone {
		t.Fatalf("approved re-run status = %q, want done", res.Status)
	}
	if res.SignableTransaction == "" {
		t.Fatal("approved re-run should attach the artifact")
	}
	if res.AutoApproved {
		t.Fatal("caller approval is not auto approval")
	}
}

func TestRunInsufficientBalanceFailsBeforeAnyQuote(t *testing.T) {
	quotes := &fakeQuotes{routes: []model.Quote{routeQuote("Whirlpool", "1", "0")}}
	p := New(&fakeBalances{snap: snapshot("10")}, quotes, &fakeBuilder{})

	res := p.Run(context.Background(), request("100"))

	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Status != model.PlanStatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if kind := planerr.KindOf(res.Err()); kind != planerr.KindInsufficientBalance {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindInsufficientBalance)
	}
	wantMsg := "Insufficient balance. Have 10 USDC, need 100 USDC"
	if res.Error == nil || res.Error.Message != wantMsg {
		t.Fatalf("error = %+v, want message %q", res.Error, wantMsg)
	}
	if got := atomic.LoadInt32(&quotes.routesCalls); got != 0 {
		t.Fatalf("quote service calls = %d, want 0", got)
	}
	if got := atomic.LoadInt32(&quotes.quoteCalls); got != 0 {
		t.Fatalf("re-quote calls = %d, want 0", got)
	}
}

func TestRunUpstreamOutageFailsAfterExactlyThreeAttempts(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	jc := jupiter.New(
		httpx.New(
			httpx.WithTimeout(2*time.Second),
			httpx.WithAttempts(3),
			httpx.WithBackoff(10*time.Millisecond, 50*time.Millisecond),
		),
		jupiter.WithBaseURLs(srv.URL, srv.URL),
	)
	p := New(&fakeBalances{snap: snapshot("1000")}, jc, jc)

	start := time.Now()
	res := p.Run(context.Background(), request("20"))
	elapsed := time.Since(start)

	if res.Status != model.PlanStatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if kind := planerr.KindOf(res.Err()); kind != planerr.KindUpstreamUnavailable {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindUpstreamUnavailable)
	}
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("attempts = %d, want exactly 3", got)
	}
	// Two backoff waits at 10ms and 20ms sit between the three attempts.
	if elapsed < 30*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least the summed backoff", elapsed)
	}
}

func TestRunResolvesPercentageAgainstLiveBalance(t *testing.T) {
	best := routeQuote("Whirlpool", "0.09", "10")
	quotes := &fakeQuotes{routes: []model.Quote{best}, quote: best}
	p := New(&fakeBalances{snap: snapshot("80")}, quotes, &fakeBuilder{artifact: model.ExecutionArtifact{SignableTransaction: "AQID"}})

	req := model.TradeRequest{
		AccountID:   "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		SourceAsset: "USDC",
		DestAsset:   "SOL",
		Percentage:  decimal.NewNullDecimal(dec("25")),
		SlippageBps: 50,
	}
	res := p.Run(context.Background(), req)

	if res.Err() != nil {
		t.Fatalf("unexpected error: %v", res.Err())
	}
	if !quotes.lastAmount.Equal(dec("20")) {
		t.Fatalf("resolved amount = %s, want 25%% of 80", quotes.lastAmount)
	}
}

func TestRunRejectsAmbiguousAmountInput(t *testing.T) {
	balances := &fakeBalances{snap: snapshot("100")}
	p := New(balances, &fakeQuotes{}, &fakeBuilder{})

	both := request("20")
	both.Percentage = decimal.NewNullDecimal(dec("50"))
	res := p.Run(context.Background(), both)
	if kind := planerr.KindOf(res.Err()); kind != planerr.KindInvalidAmount {
		t.Fatalf("both set: kind = %q, want %q", kind, planerr.KindInvalidAmount)
	}

	neither := model.TradeRequest{
		AccountID:   "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		SourceAsset: "USDC",
		DestAsset:   "SOL",
	}
	res = p.Run(context.Background(), neither)
	if kind := planerr.KindOf(res.Err()); kind != planerr.KindInvalidAmount {
		t.Fatalf("neither set: kind = %q, want %q", kind, planerr.KindInvalidAmount)
	}
	if got := atomic.LoadInt32(&balances.calls); got != 0 {
		t.Fatalf("balance calls = %d, want 0 for invalid requests", got)
	}
}

func TestRunUnknownSourceAssetFailsAtBalanceCheck(t *testing.T) {
	balances := &fakeBalances{snap: snapshot("100")}
	p := New(balances, &fakeQuotes{}, &fakeBuilder{})

	req := request("20")
	req.SourceAsset = "DOGE2"
	res := p.Run(context.Background(), req)

	if kind := planerr.KindOf(res.Err()); kind != planerr.KindUnknownAsset {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindUnknownAsset)
	}
	if got := atomic.LoadInt32(&balances.calls); got != 0 {
		t.Fatalf("balance calls = %d, want 0 for unknown asset", got)
	}
	if res.Stages[0].Stage != StageCheckingBalance || res.Stages[0].Status != StageStatusFailed {
		t.Fatalf("stage trail = %+v, want failed checking_balance", res.Stages)
	}
}

func TestRunBalanceOracleFailurePreservesKind(t *testing.T) {
	oracleErr := planerr.New(planerr.KindUpstreamUnavailable, "rpc timeout")
	p := New(&fakeBalances{err: oracleErr}, &fakeQuotes{}, &fakeBuilder{})

	res := p.Run(context.Background(), request("20"))

	if kind := planerr.KindOf(res.Err()); kind != planerr.KindUpstreamUnavailable {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindUpstreamUnavailable)
	}
}

func TestRunEmptyRouteDiscoveryFails(t *testing.T) {
	p := New(&fakeBalances{snap: snapshot("100")}, &fakeQuotes{routes: []model.Quote{}}, &fakeBuilder{})

	res := p.Run(context.Background(), request("20"))

	if kind := planerr.KindOf(res.Err()); kind != planerr.KindNoRouteAvailable {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindNoRouteAvailable)
	}
	last := res.Stages[len(res.Stages)-1]
	if last.Stage != StageFetchingRoutes || last.Status != StageStatusFailed {
		t.Fatalf("last stage = %+v, want failed fetching_routes", last)
	}
}

func TestRunArtifactBuildFailureFailsSimulation(t *testing.T) {
	best := routeQuote("Whirlpool", "0.098", "40")
	quotes := &fakeQuotes{routes: []model.Quote{best}, quote: best}
	buildErr := planerr.New(planerr.KindExecutionBuild, "Failed to build transaction: quote expired")
	p := New(&fakeBalances{snap: snapshot("100")}, quotes, &fakeBuilder{err: buildErr})

	res := p.Run(context.Background(), request("20"))

	if kind := planerr.KindOf(res.Err()); kind != planerr.KindExecutionBuild {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindExecutionBuild)
	}
	if res.Simulation == nil || res.Simulation.Succeeded {
		t.Fatalf("simulation = %+v, want recorded failure", res.Simulation)
	}
	if res.Simulation.Error == "" {
		t.Fatal("simulation error detail missing")
	}
}

func TestRunFallsBackToRawOutputWhenPriceUnavailable(t *testing.T) {
	best := routeQuote("Whirlpool", "0.098", "40")
	quotes := &fakeQuotes{routes: []model.Quote{best}, quote: best}
	p := New(
		&fakeBalances{snap: snapshot("100")},
		quotes,
		&fakeBuilder{artifact: model.ExecutionArtifact{SignableTransaction: "AQID"}},
		WithPriceOracle(&fakePrices{err: planerr.New(planerr.KindUpstreamUnavailable, "price api down")}),
	)

	res := p.Run(context.Background(), request("20"))

	if res.Err() != nil {
		t.Fatalf("price failure must not fail the plan: %v", res.Err())
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning about the price fallback")
	}
	if !res.Simulation.EstimatedValue.Equal(dec("0.098")) {
		t.Fatalf("estimated value = %s, want raw output amount", res.Simulation.EstimatedValue)
	}
	if res.Simulation.ValueCurrency != "SOL" {
		t.Fatalf("value currency = %q, want destination asset", res.Simulation.ValueCurrency)
	}
}

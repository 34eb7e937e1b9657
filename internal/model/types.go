package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

// Plan lifecycle statuses as persisted and rendered.
const (
	PlanStatusDone      = "done"
	PlanStatusCancelled = "cancelled"
	PlanStatusFailed    = "failed"
)

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Upstreams []UpstreamStatus `json:"upstreams,omitempty"`
	Cache     CacheStatus      `json:"cache"`
}

type UpstreamStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// TradeRequest describes one intended swap. Exactly one of Amount and
// Percentage must be set; a percentage resolves against the live balance
// during the balance check, never against a cached value.
type TradeRequest struct {
	AccountID   string              `json:"account_id"`
	SourceAsset string              `json:"source_asset"`
	DestAsset   string              `json:"dest_asset"`
	Amount      decimal.NullDecimal `json:"amount"`
	Percentage  decimal.NullDecimal `json:"percentage"`
	SlippageBps int                 `json:"slippage_bps"`
	Approved    bool                `json:"approved"`
}

type AmountInfo struct {
	AmountBaseUnits string          `json:"amount_base_units"`
	AmountDecimal   decimal.Decimal `json:"amount_decimal"`
	Decimals        int             `json:"decimals"`
}

// Quote is one candidate route returned by the aggregator. Raw holds the
// full upstream payload so it can be replayed verbatim when building the
// execution artifact.
type Quote struct {
	Provider        string          `json:"provider"`
	SourceAsset     string          `json:"source_asset"`
	DestAsset       string          `json:"dest_asset"`
	SourceMint      string          `json:"source_mint"`
	DestMint        string          `json:"dest_mint"`
	In              AmountInfo      `json:"input_amount"`
	Out             AmountInfo      `json:"estimated_out"`
	PriceImpactBps  decimal.Decimal `json:"price_impact_bps"`
	SlippageBps     int             `json:"slippage_bps"`
	Route           string          `json:"route"`
	RoutePlan       json.RawMessage `json:"route_plan,omitempty"`
	PlatformFeeBase string          `json:"platform_fee_base_units,omitempty"`
	Raw             json.RawMessage `json:"-"`
	FetchedAt       string          `json:"fetched_at"`
}

// PriceImpactFraction converts basis points to the fraction used by the
// route score (40 bps -> 0.004).
func (q Quote) PriceImpactFraction() decimal.Decimal {
	return q.PriceImpactBps.Shift(-4)
}

// ExecutionArtifact is the signable payload built from a quote. The core
// never submits it; signing and settlement belong to the caller.
type ExecutionArtifact struct {
	SignableTransaction  string `json:"signable_transaction"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height,omitempty"`
}

type SimulationResult struct {
	Succeeded            bool            `json:"succeeded"`
	SourceAsset          string          `json:"source_asset"`
	DestAsset            string          `json:"dest_asset"`
	AmountIn             decimal.Decimal `json:"amount_in"`
	AmountOut            decimal.Decimal `json:"amount_out"`
	PriceImpactBps       decimal.Decimal `json:"price_impact_bps"`
	EstimatedValue       decimal.Decimal `json:"estimated_value"`
	ValueCurrency        string          `json:"value_currency"`
	GasEstimate          uint64          `json:"gas_estimate"`
	Logs                 []string        `json:"logs"`
	SignableTransaction  string          `json:"signable_transaction,omitempty"`
	LastValidBlockHeight uint64          `json:"last_valid_block_height,omitempty"`
	Error                string          `json:"error,omitempty"`
}

type BalanceSnapshot struct {
	AccountID string          `json:"account_id"`
	Asset     string          `json:"asset"`
	Mint      string          `json:"mint,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Decimals  int             `json:"decimals"`
	Source    string          `json:"source"`
	FetchedAt string          `json:"fetched_at"`
}

type PriceQuote struct {
	Asset     string          `json:"asset"`
	Mint      string          `json:"mint"`
	VsAsset   string          `json:"vs_asset"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt string          `json:"fetched_at"`
}

// PlanReceipt is the persisted record of one completed planning cycle.
type PlanReceipt struct {
	ID                     string          `json:"id"`
	AccountID              string          `json:"account_id"`
	SourceAsset            string          `json:"source_asset"`
	DestAsset              string          `json:"dest_asset"`
	AmountIn               decimal.Decimal `json:"amount_in"`
	AmountOut              decimal.Decimal `json:"amount_out"`
	Route                  string          `json:"route"`
	Status                 string          `json:"status"`
	RequiresManualApproval bool            `json:"requires_manual_approval"`
	ErrorKind              string          `json:"error_kind,omitempty"`
	ErrorMessage           string          `json:"error_message,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

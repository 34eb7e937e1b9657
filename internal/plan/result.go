package plan

import (
	"time"

	"github.com/swapplan/swapplan/internal/model"
)

// ResultError is the closed-kind error view surfaced to callers. Message is
// always plain language; Kind is the machine-readable classification.
type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of one planning cycle. OK is true whenever the
// cycle ended without a classified error, including a cancellation at the
// approval gate; Status distinguishes done, cancelled and failed.
type Result struct {
	PlanID                 string                  `json:"plan_id"`
	OK                     bool                    `json:"ok"`
	Status                 string                  `json:"status"`
	Request                model.TradeRequest      `json:"request"`
	Balance                *model.BalanceSnapshot  `json:"balance,omitempty"`
	SelectedRoute          *RankedRoute            `json:"selected_route,omitempty"`
	Simulation             *model.SimulationResult `json:"simulation,omitempty"`
	SignableTransaction    string                  `json:"signable_transaction,omitempty"`
	RequiresManualApproval bool                    `json:"requires_manual_approval"`
	AutoApproved           bool                    `json:"auto_approved"`
	Error                  *ResultError            `json:"error,omitempty"`
	Warnings               []string                `json:"warnings,omitempty"`
	Stages                 []StageRecord           `json:"stages"`
	CreatedAt              time.Time               `json:"created_at"`
	FinishedAt             time.Time               `json:"finished_at"`

	err error
}

// Err returns the underlying classified error for a failed cycle, nil
// otherwise. Callers map it to exit codes; the serialized Error field
// carries the same kind and message.
func (r *Result) Err() error { return r.err }

// Receipt flattens the result into its persistable form.
func (r *Result) Receipt() model.PlanReceipt {
	rec := model.PlanReceipt{
		ID:                     r.PlanID,
		AccountID:              r.Request.AccountID,
		SourceAsset:            r.Request.SourceAsset,
		DestAsset:              r.Request.DestAsset,
		Status:                 r.Status,
		RequiresManualApproval: r.RequiresManualApproval,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.FinishedAt,
	}
	if r.Simulation != nil {
		rec.AmountIn = r.Simulation.AmountIn
		rec.AmountOut = r.Simulation.AmountOut
	}
	if r.SelectedRoute != nil {
		rec.Route = r.SelectedRoute.Route
	}
	if r.Error != nil {
		rec.ErrorKind = r.Error.Kind
		rec.ErrorMessage = r.Error.Message
	}
	return rec
}

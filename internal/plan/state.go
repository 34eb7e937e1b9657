package plan

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swapplan/swapplan/internal/model"
)

type Stage string

const (
	StageCheckingBalance  Stage = "checking_balance"
	StageFetchingRoutes   Stage = "fetching_routes"
	StageRankingRoutes    Stage = "ranking_routes"
	StageSimulating       Stage = "simulating"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageExecuting        Stage = "executing"
	StageDone             Stage = "done"
	StageCancelled        Stage = "cancelled"
	StageFailed           Stage = "failed"
)

type StageStatus string

const (
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusHalted    StageStatus = "halted"
)

// StageRecord is one entry in the cycle's audit trail.
type StageRecord struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Detail     string      `json:"detail,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// State is the record threaded through one planning cycle. A cycle owns
// its State exclusively; it is never shared across concurrent cycles and
// never survives the cycle that created it.
type State struct {
	ID              string                  `json:"id"`
	Request         model.TradeRequest      `json:"request"`
	Stage           Stage                   `json:"stage"`
	Balance         *model.BalanceSnapshot  `json:"balance,omitempty"`
	SufficientFunds bool                    `json:"sufficient_funds"`
	ResolvedAmount  decimal.Decimal         `json:"resolved_amount"`
	Candidates      []model.Quote           `json:"candidate_routes,omitempty"`
	Selected        *RankedRoute            `json:"selected_route,omitempty"`
	Simulation      *model.SimulationResult `json:"simulation,omitempty"`
	ApprovalNeeded  bool                    `json:"approval_required"`
	UserApproved    bool                    `json:"user_approved"`
	Trail           []StageRecord           `json:"trail"`
	Warnings        []string                `json:"warnings,omitempty"`
	Metadata        map[string]any          `json:"metadata,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`

	err error
}

func NewState(req model.TradeRequest) *State {
	now := time.Now().UTC()
	return &State{
		ID:        uuid.NewString(),
		Request:   req,
		Stage:     StageCheckingBalance,
		Trail:     []StageRecord{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *State) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// begin moves the cycle into a stage and opens its trail record.
func (s *State) begin(stage Stage) *StageRecord {
	s.Stage = stage
	s.Touch()
	s.Trail = append(s.Trail, StageRecord{
		Stage:     stage,
		StartedAt: time.Now().UTC(),
	})
	return &s.Trail[len(s.Trail)-1]
}

func (s *State) complete(rec *StageRecord, detail string) {
	rec.Status = StageStatusCompleted
	rec.Detail = detail
	rec.FinishedAt = time.Now().UTC()
	s.Touch()
}

// fail ends the stage and absorbs the cycle into the failed state; later
// stages never run.
func (s *State) fail(rec *StageRecord, err error) {
	rec.Status = StageStatusFailed
	rec.Detail = err.Error()
	rec.FinishedAt = time.Now().UTC()
	s.err = err
	s.Touch()
}

// halt ends the stage without failing the cycle; used when the approval
// gate stops short of execution.
func (s *State) halt(rec *StageRecord, detail string) {
	rec.Status = StageStatusHalted
	rec.Detail = detail
	rec.FinishedAt = time.Now().UTC()
	s.Touch()
}

func (s *State) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
	s.Touch()
}

func (s *State) Err() error { return s.err }

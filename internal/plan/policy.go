package plan

import (
	"github.com/shopspring/decimal"

	"github.com/swapplan/swapplan/internal/model"
)

// DefaultApprovalThreshold is the estimated destination value, in units of
// the quote currency, above which a human must sign off on the trade.
const DefaultApprovalThreshold = 100

// RequiresManualApproval reports whether the simulated trade needs manual
// sign-off. Values strictly below the threshold auto-approve; a value
// exactly at the threshold does not. Pure function of its inputs.
func RequiresManualApproval(sim model.SimulationResult, threshold decimal.Decimal) bool {
	return sim.EstimatedValue.GreaterThanOrEqual(threshold)
}

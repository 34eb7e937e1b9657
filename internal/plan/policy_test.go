package plan

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/swapplan/swapplan/internal/model"
)

func TestApprovalAppliesStrictlyBelowThreshold(t *testing.T) {
	threshold := decimal.NewFromInt(DefaultApprovalThreshold)
	tests := []struct {
		value  string
		manual bool
	}{
		{"0", false},
		{"99.999999", false},
		{"100", true}, // at-threshold trades wait for a human
		{"100.000001", true},
		{"1001.20", true},
	}
	for _, tt := range tests {
		sim := model.SimulationResult{EstimatedValue: dec(tt.value), ValueCurrency: "USDC"}
		if got := RequiresManualApproval(sim, threshold); got != tt.manual {
			t.Errorf("value %s: manual = %v, want %v", tt.value, got, tt.manual)
		}
	}
}

func TestApprovalHonorsCustomThreshold(t *testing.T) {
	threshold := decimal.NewFromInt(500)
	sim := model.SimulationResult{EstimatedValue: dec("250"), ValueCurrency: "USDC"}
	if RequiresManualApproval(sim, threshold) {
		t.Fatal("250 under a 500 threshold should auto-approve")
	}
	sim.EstimatedValue = dec("500")
	if !RequiresManualApproval(sim, threshold) {
		t.Fatal("at-threshold value should require approval")
	}
}

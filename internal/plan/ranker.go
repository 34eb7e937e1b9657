package plan

import (
	"github.com/shopspring/decimal"

	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/model"
)

// RankedRoute is a candidate quote with its risk-adjusted score attached.
type RankedRoute struct {
	model.Quote
	Score decimal.Decimal `json:"score"`
}

// Rank selects the best candidate: highest output discounted by price
// impact, ties broken by lower absolute impact. The result is deterministic
// for a fixed candidate set; ranking twice selects the same route.
func Rank(candidates []model.Quote) (RankedRoute, error) {
	if len(candidates) == 0 {
		return RankedRoute{}, planerr.New(planerr.KindNoRouteAvailable, "No routes available")
	}

	best := RankedRoute{Quote: candidates[0], Score: Score(candidates[0])}
	for _, q := range candidates[1:] {
		next := RankedRoute{Quote: q, Score: Score(q)}
		if betterThan(next, best) {
			best = next
		}
	}
	return best, nil
}

// Score computes amount_out / (1 + |price_impact_fraction|): a route that
// promises more output scores higher, but heavy impact discounts it.
func Score(q model.Quote) decimal.Decimal {
	divisor := decimal.New(1, 0).Add(q.PriceImpactFraction().Abs())
	return q.Out.AmountDecimal.Div(divisor)
}

func betterThan(a, b RankedRoute) bool {
	if !a.Score.Equal(b.Score) {
		return a.Score.GreaterThan(b.Score)
	}
	return a.PriceImpactFraction().Abs().LessThan(b.PriceImpactFraction().Abs())
}

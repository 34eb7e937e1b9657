package plan

import (
	"testing"

	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/model"
)

func TestRankPrefersHigherOutput(t *testing.T) {
	best, err := Rank([]model.Quote{
		routeQuote("Raydium", "99", "0"),
		routeQuote("Whirlpool", "100", "0"),
	})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if best.Route != "Whirlpool" {
		t.Fatalf("selected %q, want the higher output", best.Route)
	}
}

func TestRankDiscountsPriceImpact(t *testing.T) {
	// 100 out at 5% impact scores ~95.24; the smaller but clean route wins.
	best, err := Rank([]model.Quote{
		routeQuote("Raydium", "100", "500"),
		routeQuote("Whirlpool", "96", "0"),
	})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if best.Route != "Whirlpool" {
		t.Fatalf("selected %q, want the low-impact route", best.Route)
	}
}

func TestRankTieBreaksOnLowerImpact(t *testing.T) {
	// 100.4 / 1.004 and 100 / 1 both score exactly 100.
	best, err := Rank([]model.Quote{
		routeQuote("Raydium", "100.4", "40"),
		routeQuote("Whirlpool", "100", "0"),
	})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if best.Route != "Whirlpool" {
		t.Fatalf("selected %q, want the lower-impact route on a score tie", best.Route)
	}
}

func TestRankScoresNegativeImpactByMagnitude(t *testing.T) {
	positive := Score(routeQuote("Raydium", "100", "40"))
	negative := Score(routeQuote("Raydium", "100", "-40"))
	if !positive.Equal(negative) {
		t.Fatalf("scores differ by impact sign: %s vs %s", positive, negative)
	}
}

func TestRankEmptyCandidates(t *testing.T) {
	_, err := Rank(nil)
	if err == nil {
		t.Fatal("expected an error for an empty candidate set")
	}
	if kind := planerr.KindOf(err); kind != planerr.KindNoRouteAvailable {
		t.Fatalf("kind = %q, want %q", kind, planerr.KindNoRouteAvailable)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	forward := []model.Quote{
		routeQuote("Raydium", "98", "20"),
		routeQuote("Whirlpool", "100", "40"),
		routeQuote("Meteora", "99", "0"),
	}
	reversed := []model.Quote{forward[2], forward[1], forward[0]}

	first, err := Rank(forward)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	again, err := Rank(forward)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	flipped, err := Rank(reversed)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if first.Route != again.Route || first.Route != flipped.Route {
		t.Fatalf("selection depends on iteration: %q, %q, %q", first.Route, again.Route, flipped.Route)
	}
	if !first.Score.Equal(again.Score) {
		t.Fatalf("score not stable: %s vs %s", first.Score, again.Score)
	}
}

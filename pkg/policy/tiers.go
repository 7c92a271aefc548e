// Package policy holds the risk-tier tables that shape prompts and decide
// whether a generated parlay is acceptable.
package policy

import (
	"fmt"

	"github.com/phenomenon0/parlay-agents/core"
)

// ConfidenceBand bounds the confidence a leg may claim for a price range.
// A price p falls in the band when Shortest <= p <= Longest.
type ConfidenceBand struct {
	Shortest      int // most negative price in the band
	Longest       int // least negative price in the band
	MinConfidence int
	MaxConfidence int
}

// Contains reports whether price falls in the band.
func (b ConfidenceBand) Contains(price int) bool {
	return price >= b.Shortest && price <= b.Longest
}

// Tier is the policy for one risk tier.
type Tier struct {
	Name core.RiskTier

	// Combined-odds range the prompt asks for.
	TargetMin int
	TargetMax int

	// Per-leg price guidance for the prompt.
	LegShortest int
	LegLongest  int

	// HeavyFavorite, when non-zero, is the longest price any leg may carry.
	HeavyFavorite int

	// Bands, when set, are enforced on every leg.
	Bands []ConfidenceBand

	MaxAttempts  int
	DeepResearch bool
	LockSection  bool
}

const noLimit = 1 << 30

var tiers = map[core.RiskTier]Tier{
	core.RiskConservative: {
		Name:          core.RiskConservative,
		TargetMin:     150,
		TargetMax:     400,
		LegShortest:   -400,
		LegLongest:    -150,
		HeavyFavorite: -150,
		Bands: []ConfidenceBand{
			{Shortest: -noLimit, Longest: -300, MinConfidence: 7, MaxConfidence: 10},
			{Shortest: -299, Longest: -200, MinConfidence: 6, MaxConfidence: 9},
			{Shortest: -199, Longest: -150, MinConfidence: 5, MaxConfidence: 8},
		},
		MaxAttempts:  3,
		DeepResearch: true,
		LockSection:  true,
	},
	core.RiskModerate: {
		Name:        core.RiskModerate,
		TargetMin:   300,
		TargetMax:   800,
		LegShortest: -250,
		LegLongest:  150,
		MaxAttempts: 1,
		LockSection: true,
	},
	core.RiskAggressive: {
		Name:        core.RiskAggressive,
		TargetMin:   800,
		TargetMax:   3000,
		LegShortest: -200,
		LegLongest:  350,
		MaxAttempts: 1,
		LockSection: true,
	},
}

// For returns the policy for tier. Unknown tiers get the moderate policy.
func For(tier core.RiskTier) Tier {
	if t, ok := tiers[tier]; ok {
		return t
	}
	return tiers[core.RiskModerate]
}

// Enforced reports whether the tier runs price and confidence checks.
func (t Tier) Enforced() bool {
	return t.HeavyFavorite != 0 || len(t.Bands) > 0
}

// CheckPrice validates a leg price against the heavy-favorite threshold.
func (t Tier) CheckPrice(price int) error {
	if t.HeavyFavorite == 0 {
		return nil
	}
	if price > t.HeavyFavorite {
		return fmt.Errorf("odds %s are longer than the %s heavy-favorite limit",
			formatPrice(price), formatPrice(t.HeavyFavorite))
	}
	return nil
}

// Band returns the confidence band for price.
func (t Tier) Band(price int) (ConfidenceBand, bool) {
	for _, b := range t.Bands {
		if b.Contains(price) {
			return b, true
		}
	}
	return ConfidenceBand{}, false
}

// CheckConfidence validates a leg's stated confidence against its price band.
// Prices outside every band are left to CheckPrice.
func (t Tier) CheckConfidence(price, confidence int) error {
	b, ok := t.Band(price)
	if !ok {
		return nil
	}
	if confidence < b.MinConfidence || confidence > b.MaxConfidence {
		return fmt.Errorf("confidence %d at odds %s must be between %d and %d",
			confidence, formatPrice(price), b.MinConfidence, b.MaxConfidence)
	}
	return nil
}

func formatPrice(p int) string {
	if p > 0 {
		return fmt.Sprintf("+%d", p)
	}
	return fmt.Sprintf("%d", p)
}

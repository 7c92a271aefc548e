package odds

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Combination is the priced result of joining legs into one parlay.
type Combination struct {
	Decimal  decimal.Decimal
	American string
	Payout   decimal.Decimal // returned on a 100 stake, stake included
	Profit   decimal.Decimal // Payout minus the stake
}

// PayoutString renders the payout on a 100 stake as dollars.
func (c Combination) PayoutString() string {
	return "$" + c.Payout.StringFixed(2)
}

// ProfitString renders the profit on a 100 stake as dollars.
func (c Combination) ProfitString() string {
	return "$" + c.Profit.StringFixed(2)
}

// CombineLegs multiplies the decimal odds of every leg and converts the
// product back to American notation.
func CombineLegs(legs []string) (Combination, error) {
	if len(legs) == 0 {
		return Combination{}, &InvalidInputError{Reason: "no legs to combine"}
	}

	product := one
	for i, leg := range legs {
		d, err := ToDecimal(leg)
		if err != nil {
			return Combination{}, fmt.Errorf("leg %d: %w", i+1, err)
		}
		product = product.Mul(d)
	}

	american, err := DecimalToAmerican(product)
	if err != nil {
		return Combination{}, err
	}

	payout := product.Mul(hundred).Round(2)
	return Combination{
		Decimal:  product,
		American: american,
		Payout:   payout,
		Profit:   payout.Sub(hundred),
	}, nil
}

// CombineInts is CombineLegs for parsed prices.
func CombineInts(legs []int) (Combination, error) {
	s := make([]string, len(legs))
	for i, v := range legs {
		s[i] = FormatAmerican(v)
	}
	return CombineLegs(s)
}

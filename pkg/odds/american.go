// Package odds provides American/decimal odds arithmetic.
//
// Every combined price or payout shown to a user is computed here; numbers
// claimed by the model are never reused.
package odds

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmerican bounds the magnitude of any price ParseAmerican accepts.
const MaxAmerican = 100000

var (
	maxAmerican = decimal.NewFromInt(MaxAmerican)

	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// ParseAmerican parses a signed American price such as "+150", "-110" or "150".
// "EVEN" and "EV" are read as +100. Magnitudes above MaxAmerican are rejected.
func ParseAmerican(s string) (int, error) {
	raw := strings.TrimSpace(s)
	switch strings.ToUpper(raw) {
	case "EVEN", "EV":
		return 100, nil
	case "":
		return 0, &InvalidOddsError{Value: s, Reason: "empty"}
	}

	num := strings.TrimPrefix(raw, "+")
	if num != raw && strings.HasPrefix(num, "-") {
		return 0, &InvalidOddsError{Value: s, Reason: "not numeric"}
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return 0, &InvalidOddsError{Value: s, Reason: "not numeric"}
	}
	d = d.Round(0)
	if d.Abs().GreaterThan(maxAmerican) {
		return 0, &InvalidOddsError{Value: s, Reason: "out of range"}
	}
	v := int(d.IntPart())
	if v == 0 {
		return 0, &InvalidOddsError{Value: s, Reason: "cannot be zero"}
	}
	return v, nil
}

// FormatAmerican renders a price with an explicit sign.
func FormatAmerican(v int) string {
	if v > 0 {
		return "+" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

// AmericanToDecimal converts an American price to decimal odds.
// +150 -> 2.5, -200 -> 1.5.
func AmericanToDecimal(american int) (decimal.Decimal, error) {
	if american == 0 {
		return decimal.Zero, &InvalidOddsError{Value: "0", Reason: "cannot be zero"}
	}
	a := decimal.NewFromInt(int64(american))
	if american > 0 {
		return one.Add(a.Div(hundred)), nil
	}
	return one.Add(hundred.Div(a.Abs())), nil
}

// ToDecimal parses s and converts it to decimal odds.
func ToDecimal(s string) (decimal.Decimal, error) {
	v, err := ParseAmerican(s)
	if err != nil {
		return decimal.Zero, err
	}
	return AmericanToDecimal(v)
}

// DecimalToAmerican converts decimal odds back to a signed American string.
// Decimal odds of 1 or less have no American equivalent.
func DecimalToAmerican(d decimal.Decimal) (string, error) {
	v, err := DecimalToAmericanInt(d)
	if err != nil {
		return "", err
	}
	return FormatAmerican(v), nil
}

// DecimalToAmericanInt is DecimalToAmerican without the string rendering.
func DecimalToAmericanInt(d decimal.Decimal) (int, error) {
	if d.LessThanOrEqual(one) {
		return 0, &InvalidOddsError{Value: d.String(), Reason: "decimal odds must be greater than 1"}
	}
	if d.GreaterThanOrEqual(two) {
		return int(d.Sub(one).Mul(hundred).Round(0).IntPart()), nil
	}
	return -int(hundred.Div(d.Sub(one)).Round(0).IntPart()), nil
}

// ImpliedProbability returns the break-even win probability of a price as a percentage.
// +100 -> 50, -300 -> 75.
func ImpliedProbability(s string) (decimal.Decimal, error) {
	v, err := ParseAmerican(s)
	if err != nil {
		return decimal.Zero, err
	}
	return ImpliedProbabilityInt(v), nil
}

// ImpliedProbabilityInt is ImpliedProbability for an already parsed, non-zero price.
func ImpliedProbabilityInt(v int) decimal.Decimal {
	a := decimal.NewFromInt(int64(v))
	if v > 0 {
		return hundred.Div(a.Add(hundred)).Mul(hundred)
	}
	abs := a.Abs()
	return abs.Div(abs.Add(hundred)).Mul(hundred)
}

// ImpliedProbabilityFromDecimal returns the break-even probability of decimal odds
// as a percentage. Decimal odds of 4 -> 25.
func ImpliedProbabilityFromDecimal(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}
	return hundred.Div(d)
}

package commission

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Compute returns round2(value * percentage / 100).
func Compute(value, percentage decimal.Decimal) decimal.Decimal {
	return Round2(value.Mul(percentage).Div(hundred))
}

package shared

import "github.com/shopspring/decimal"

// Storage precision for NUMERIC columns.
const (
	AmountScale int32 = 4
	RateScale   int32 = 8
)

var hundred = decimal.NewFromInt(100)

// RoundAmount rounds a monetary value to storage precision.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// RoundRate rounds an exchange rate to storage precision.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RateScale)
}

// PercentOf returns base * pct / 100.
func PercentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Reciprocal returns 1/d at rate precision; zero stays zero.
func Reciprocal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(d, RateScale)
}

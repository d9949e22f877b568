// Package money holds the exact-decimal rounding contracts shared by the
// analytics and ingestion layers. All business values are
// github.com/shopspring/decimal; binary floats never carry money.
package money

import "github.com/shopspring/decimal"

// Fractional-digit budgets for the three value domains in play: crypto
// quantities, USD/EUR monetary amounts, and percentages.
const (
	QuantityScale   = 18
	MonetaryScale   = 8
	PercentScale    = 2
)

// RoundMonetary rounds to the 8-fractional-digit USD/EUR budget, half-up.
func RoundMonetary(d decimal.Decimal) decimal.Decimal {
	return d.Round(MonetaryScale)
}

// RoundPercent rounds to the 2-fractional-digit percent budget, half-up.
func RoundPercent(d decimal.Decimal) decimal.Decimal {
	return d.Round(PercentScale)
}

// RoundQuantity rounds to the 18-fractional-digit crypto-quantity budget.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// Zero and Hundred are reused constants to avoid repeated decimal.NewFromInt
// allocations in hot kernel loops.
var (
	Zero     = decimal.Zero
	Hundred  = decimal.NewFromInt(100)
)

// SafeDiv divides a by b, returning zero instead of panicking/propagating a
// division-by-zero when b is zero. Used throughout the portfolio and views
// layers wherever a denominator may legitimately be empty (no cost basis,
// no invested capital, no prior price history).
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.Div(b)
}

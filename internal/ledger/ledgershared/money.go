package ledgershared

import "github.com/shopspring/decimal"

// MoneyScale is the fixed decimal scale for every monetary field the
// governance core persists. Rounding is half-even (banker's rounding) per
// the accounting gateway's posting rules.
const MoneyScale = 2

// RoundMoney rounds d to MoneyScale using half-even rounding.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// MoneyEqual reports whether a and b are equal once rounded to MoneyScale.
func MoneyEqual(a, b decimal.Decimal) bool {
	return RoundMoney(a).Equal(RoundMoney(b))
}

// MoneyTolerance is the maximum acceptable imbalance between debit and
// credit totals before an entry is rejected as unbalanced.
var MoneyTolerance = decimal.NewFromFloat(0.01)

// WithinTolerance reports whether |a-b| <= MoneyTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	return diff.LessThanOrEqual(MoneyTolerance)
}

package domain

import (
	"github.com/shopspring/decimal"
)

const (
	// DefaultPrecision is the number of significant digits kept by ledger arithmetic
	DefaultPrecision int32 = 12

	// NoCashScale disables currency-scale rounding of cash amounts
	NoCashScale int32 = -1

	// divisionGuardDigits are computed beyond the working precision before the single rounding step
	divisionGuardDigits int32 = 3
)

// MathContext defines the precision and rounding policy for monetary and quantity arithmetic.
// Every operation rounds its result to Precision significant digits using round-half-up.
// When CashScale is >= 0, cash amounts are additionally rounded to that many decimal places.
type MathContext struct {
	Precision int32
	CashScale int32
}

// DefaultMathContext returns the 12 significant digit, half-up context with no cash-scale rounding
func DefaultMathContext() MathContext {
	return MathContext{Precision: DefaultPrecision, CashScale: NoCashScale}
}

// Round rounds d to the context's significant digits (half away from zero).
// A non-positive precision means unlimited.
func (mc MathContext) Round(d decimal.Decimal) decimal.Decimal {
	if mc.Precision <= 0 || d.IsZero() {
		return d
	}

	return d.Round(mc.Precision - magnitude(d))
}

// Add returns a + b rounded to the context
func (mc MathContext) Add(a, b decimal.Decimal) decimal.Decimal {
	return mc.Round(a.Add(b))
}

// Sub returns a - b rounded to the context
func (mc MathContext) Sub(a, b decimal.Decimal) decimal.Decimal {
	return mc.Round(a.Sub(b))
}

// Mul returns a * b rounded to the context
func (mc MathContext) Mul(a, b decimal.Decimal) decimal.Decimal {
	return mc.Round(a.Mul(b))
}

// Div returns a / b rounded to the context.
// The quotient is truncated with guard digits and rounded once so the result
// matches a single half-up rounding of the exact quotient.
// Panics if b is zero, like decimal.Div.
func (mc MathContext) Div(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return decimal.Zero
	}

	precision := mc.Precision
	if precision <= 0 {
		return a.Div(b)
	}

	places := precision - (magnitude(a) - magnitude(b)) + divisionGuardDigits
	if places < 0 {
		places = 0
	}

	quotient, _ := a.QuoRem(b, places)
	return mc.Round(quotient)
}

// Cash applies currency-scale rounding when configured, otherwise returns d unchanged
func (mc MathContext) Cash(d decimal.Decimal) decimal.Decimal {
	if mc.CashScale < 0 {
		return d
	}
	return d.Round(mc.CashScale)
}

// magnitude returns the position of the most significant digit relative to the decimal point,
// i.e. the number of integer digits for values >= 1
func magnitude(d decimal.Decimal) int32 {
	coefficient := d.Coefficient()
	digits := len(coefficient.Abs(coefficient).String())
	return int32(digits) + d.Exponent()
}

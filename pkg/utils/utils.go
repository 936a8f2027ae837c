package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical date format used in idempotency keys and APIs.
const DateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

// CalculateEMI calculates the fixed monthly installment of an amortised loan
// Formula: P * r * (1+r)^n / ((1+r)^n - 1), r = annualRate / 12 / 100
func CalculateEMI(principal decimal.Decimal, annualRate decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(months))
	if !annualRate.IsPositive() {
		return principal.Div(n).Round(2)
	}

	r := annualRate.Div(hundred).Div(decimal.NewFromInt(12))
	growth := decimal.NewFromInt(1)
	onePlusR := growth.Add(r)
	for i := 0; i < months; i++ {
		growth = growth.Mul(onePlusR)
	}

	emi := principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))

	// Round to 2 decimal places
	return emi.Round(2)
}

// SplitInstallment splits an installment into its interest and principal parts.
// Interest is charged on the remaining principal; principal is floored at zero.
func SplitInstallment(installment, remainingPrincipal, monthlyRate decimal.Decimal) (interest, principal decimal.Decimal) {
	interest = remainingPrincipal.Mul(monthlyRate).Round(2)
	principal = installment.Sub(interest)
	if principal.IsNegative() {
		principal = decimal.Zero
	}
	return interest, principal
}

// ClampCreditScore bounds a score to [min, max].
func ClampCreditScore(score, min, max int) int {
	if score < min {
		return min
	}
	if score > max {
		return max
	}
	return score
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the number of calendar days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	a, b = DateOnly(a), DateOnly(b)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// Package discrepancy grades the gap between an expected and an observed quantity.
package discrepancy

import "github.com/shopspring/decimal"

// Severity enumerates tolerance bands.
type Severity string

const (
	// SeverityOK means the gap is within tolerance.
	SeverityOK Severity = "OK"
	// SeverityWarning means the gap deserves a second look.
	SeverityWarning Severity = "WARNING"
	// SeverityCritical means the gap almost certainly hides an entry error.
	SeverityCritical Severity = "CRITICAL"
)

var (
	// WarningThreshold is the upper bound (inclusive) of the OK band, in percent.
	WarningThreshold = decimal.NewFromInt(5)
	// CriticalThreshold is the upper bound (inclusive) of the warning band, in percent.
	CriticalThreshold = decimal.NewFromInt(10)
	// Epsilon guards the division when the expected value is zero or negative.
	Epsilon = decimal.New(1, -4)

	hundred = decimal.NewFromInt(100)
)

// Result is the outcome of a single comparison.
type Result struct {
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	// Delta is actual minus expected.
	Delta decimal.Decimal `json:"delta"`
	// Percent carries the sign of Delta; its magnitude drives Severity.
	Percent  decimal.Decimal `json:"percent"`
	Severity Severity        `json:"severity"`
}

// Classify compares expected against actual and assigns a severity band.
func Classify(expected, actual decimal.Decimal) Result {
	res := Result{
		Expected: expected,
		Actual:   actual,
		Delta:    actual.Sub(expected),
		Percent:  decimal.Zero,
		Severity: SeverityOK,
	}
	if expected.IsZero() && actual.IsZero() {
		return res
	}
	magnitude := Magnitude(expected, actual)
	res.Severity = Band(magnitude)
	if expected.IsZero() {
		res.Severity = SeverityCritical
	}
	if res.Delta.IsNegative() {
		magnitude = magnitude.Neg()
	}
	res.Percent = magnitude.Round(2)
	return res
}

// Magnitude returns |expected - actual| / max(expected, Epsilon) * 100, unrounded.
func Magnitude(expected, actual decimal.Decimal) decimal.Decimal {
	if expected.IsZero() && actual.IsZero() {
		return decimal.Zero
	}
	denominator := decimal.Max(expected, Epsilon)
	return expected.Sub(actual).Abs().Div(denominator).Mul(hundred)
}

// Band maps an absolute percentage onto a severity.
func Band(percent decimal.Decimal) Severity {
	p := percent.Abs()
	switch {
	case p.LessThanOrEqual(WarningThreshold):
		return SeverityOK
	case p.LessThanOrEqual(CriticalThreshold):
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// Rank orders severities so callers can compare them.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Worst returns the more severe of the two.
func Worst(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

package alert

import "github.com/shopspring/decimal"

// Evaluate reports whether current satisfies cond against target. Both
// comparisons are strict: a price equal to the target never fires.
func Evaluate(cond Condition, target, current decimal.Decimal) bool {
	switch cond {
	case Above:
		return current.GreaterThan(target)
	case Below:
		return current.LessThan(target)
	}
	return false
}

// Triggered evaluates the alert against a freshly fetched price.
func (a Alert) Triggered(current decimal.Decimal) bool {
	return Evaluate(a.Condition, a.TargetPrice, current)
}

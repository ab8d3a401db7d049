package wave

import "fmt"

// BudgetLevel orders the spend thresholds. Crossing a threshold notifies
// and never changes wave state.
type BudgetLevel int

// Budget levels, in severity order.
const (
	BudgetOK BudgetLevel = iota
	BudgetWarning
	BudgetCritical
)

// Budget is the per-wave spend policy. A zero Ceiling disables the checks.
type Budget struct {
	Ceiling     float64
	WarnPct     int
	CriticalPct int
}

// Level classifies a spend total against the thresholds.
func (b Budget) Level(spend float64) BudgetLevel {
	if b.Ceiling <= 0 {
		return BudgetOK
	}
	pct := spend / b.Ceiling * 100
	switch {
	case pct >= float64(b.CriticalPct):
		return BudgetCritical
	case pct >= float64(b.WarnPct):
		return BudgetWarning
	default:
		return BudgetOK
	}
}

// Describe renders a one-line budget position for notifications.
func (b Budget) Describe(spend float64) string {
	if b.Ceiling <= 0 {
		return fmt.Sprintf("spend %.2f (no ceiling configured)", spend)
	}
	return fmt.Sprintf("spend %.2f of %.2f (%.0f%%)", spend, b.Ceiling, spend/b.Ceiling*100)
}

package domain

// LeverageForScore implements the adaptive leverage table from spec.md
// §4.4 step 1. Shared by the trading engine (sizing) and the risk
// ledger (which echoes leverage_granted back from reserve_slot) so the
// two components never disagree on the mapping.
func LeverageForScore(score int) int {
	switch {
	case score >= 90:
		return 7
	case score >= 80:
		return 5
	case score >= 70:
		return 3
	default:
		return 2
	}
}

// Package tradingday generalizes the teacher's IST-based exchange
// calendar into a UTC-only day boundary: this venue trades 24/7, so
// there is no concept of a trading session to open or close, only the
// UTC date used by the risk ledger's daily_rollover operation (spec.md
// §9 open question, resolved in favor of UTC).
package tradingday

import "time"

// Date returns the UTC calendar date string (YYYY-MM-DD) containing t.
func Date(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// HasRolledOver reports whether now's UTC date is later than the date
// the accumulator last rolled over on.
func HasRolledOver(accumulatorDate string, now time.Time) bool {
	if accumulatorDate == "" {
		return true
	}
	return Date(now) > accumulatorDate
}

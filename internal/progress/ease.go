// Package progress renders tracking projections and upload byte counts on the terminal.
package progress

// Ease returns the next value to display when moving from shown toward target.
//
// Each call covers factor of the remaining distance and snaps once within half
// a percent. A target below shown (a new session, or the single reset at the
// upload/processing boundary) is taken immediately. Ease is pure: the caller's
// render loop decides how often to call it.
func Ease(shown, target, factor float64) float64 {
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	if target <= shown {
		return target
	}
	next := shown + (target-shown)*factor
	if target-next < 0.5 {
		return target
	}
	return next
}

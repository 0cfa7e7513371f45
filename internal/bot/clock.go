package bot

import "time"

const (
	lowClockThreshold  = 10 * time.Second
	midClockThreshold  = 30 * time.Second
	highClockThreshold = 60 * time.Second

	lowClockDepth  = 5
	midClockDepth  = 8
	highClockDepth = 12
)

// thinkBudget derives the engine budget for one move: a twentieth of the
// remaining clock plus half the increment, clamped to the configured window
// and never more than half of what is left.
func thinkBudget(remaining, increment, minThink, maxThink time.Duration) time.Duration {
	if minThink <= 0 {
		minThink = 100 * time.Millisecond
	}
	if maxThink <= 0 {
		maxThink = 10 * time.Second
	}
	if maxThink < minThink {
		maxThink = minThink
	}
	if remaining <= 0 {
		return minThink
	}
	budget := remaining/20 + increment/2
	if budget < minThink {
		budget = minThink
	}
	if budget > maxThink {
		budget = maxThink
	}
	if half := remaining / 2; budget > half {
		budget = half
	}
	if budget < 10*time.Millisecond {
		budget = 10 * time.Millisecond
	}
	return budget
}

// depthFor caps the configured search depth when the clock runs short so the
// engine answers well inside its budget.
func depthFor(remaining time.Duration, configured int) int {
	if configured <= 0 {
		configured = 15
	}
	if remaining <= 0 {
		return configured
	}
	switch {
	case remaining < lowClockThreshold:
		return min(lowClockDepth, configured)
	case remaining < midClockThreshold:
		return min(midClockDepth, configured)
	case remaining < highClockThreshold:
		return min(highClockDepth, configured)
	default:
		return configured
	}
}

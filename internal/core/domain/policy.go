package domain

import "time"

// TimeoutPolicy fixes the timing constants of the session lifecycle. It is
// stateless and process-wide; tests inject shorter values.
type TimeoutPolicy struct {
	// InactivityWindow is how long a session may go without user activity
	// before it is forcibly closed.
	InactivityWindow time.Duration
	// ActivityThrottle bounds write amplification: at most one recorded
	// activity (state update + persistence write) per window.
	ActivityThrottle time.Duration
	// ExpiryCheckInterval is how often the monitor re-evaluates the
	// inactivity window.
	ExpiryCheckInterval time.Duration
}

// DefaultTimeoutPolicy matches the portal's production settings.
var DefaultTimeoutPolicy = TimeoutPolicy{
	InactivityWindow:    8 * time.Minute,
	ActivityThrottle:    30 * time.Second,
	ExpiryCheckInterval: 60 * time.Second,
}

// Expired reports whether lastActivity lies outside the inactivity window at
// instant now. A zero lastActivity never expires; the initializer treats the
// absence of a timestamp separately.
func (p TimeoutPolicy) Expired(lastActivity, now time.Time) bool {
	if lastActivity.IsZero() {
		return false
	}
	return now.Sub(lastActivity) >= p.InactivityWindow
}

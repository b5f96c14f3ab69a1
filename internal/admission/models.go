package admission

import "time"

// Window is the fixed-window counter kept per client identity.
type Window struct {
	Identity string
	Start    time.Time
	Count    int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int
	Limit   int

	// RetryAfter is how long until the window resets. Only meaningful when
	// Allowed is false.
	RetryAfter time.Duration
}

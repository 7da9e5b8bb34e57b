package domain

import "time"

// RetrySchedule is the delay before attempt n+1, indexed by n-1.
var RetrySchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// RetryDelay returns the delay after the attemptNo-th failed attempt.
// Values past the end of the schedule use its last entry.
func RetryDelay(attemptNo int) time.Duration {
	idx := attemptNo - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(RetrySchedule) {
		idx = len(RetrySchedule) - 1
	}
	return RetrySchedule[idx]
}

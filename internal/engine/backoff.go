package engine

import "time"

const (
	// initialBackoff is the first polling delay while waiting on a
	// result.
	initialBackoff = time.Second

	// minBackoff floors every jittered delay.
	minBackoff = time.Second

	// baseExecutionTime seeds the per-attempt cool-down window.
	baseExecutionTime = 10 * time.Second

	// maxAttempts is the circuit breaker ceiling: once a call's attempt
	// count exceeds it with still no result, the call is never picked up
	// again.
	maxAttempts = 5
)

// NextBackoff returns the polling delay to use after a miss, given the
// previous delay. Delays start at initialBackoff and double each round;
// jitterSeconds (drawn from U[-0.5, 0.5]) desynchronizes concurrent
// pollers. The result never drops below minBackoff.
func NextBackoff(prev time.Duration, jitterSeconds float64) time.Duration {
	next := initialBackoff
	if prev > 0 {
		next = 2 * prev
	}
	next += time.Duration(jitterSeconds * float64(time.Second))
	if next < minBackoff {
		next = minBackoff
	}
	return next
}

// coolDown returns how long a call with the given number of recorded
// attempts stays off-limits after its latest attempt.
func coolDown(attempts int) time.Duration {
	d := baseExecutionTime
	for i := 0; i < attempts; i++ {
		d *= 2
	}
	return d
}

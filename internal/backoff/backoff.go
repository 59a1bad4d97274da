// Package backoff computes per-agent retry delays.
package backoff

import (
	"fmt"
	"time"
)

const (
	// DefaultBase is the delay after the first failure.
	DefaultBase = 5 * time.Second
	// DefaultCap bounds the delay regardless of attempt count.
	DefaultCap = 300 * time.Second
)

// Delay returns the backoff duration for the given number of consecutive
// failures, using base as the delay after one failure and doubling on
// each subsequent failure up to cap. attempts <= 0 is treated as 0.
//
// delay(attempts) = min(base * 2^max(attempts,0), cap)
func Delay(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		if d >= cap {
			return cap
		}
		d *= 2
	}
	if d > cap {
		d = cap
	}
	return d
}

// Seconds is a convenience wrapper over Delay using the package defaults,
// returning whole seconds as spec'd by C1.
func Seconds(attempts int) int {
	return int(Delay(attempts, DefaultBase, DefaultCap).Seconds())
}

// Format renders a duration the way operator-facing messages do: plain
// seconds under a minute, otherwise minutes and seconds.
func Format(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm %ds", m, s)
}

// Package health tracks per-agent consecutive failures and the resulting
// availability backoff window. It is process-local and rebuilt empty on
// every restart — see spec.md C2.
package health

import (
	"sync"
	"time"

	"github.com/ashleyhindle/fuel/internal/backoff"
)

// record is the per-agent bookkeeping held under Tracker.mu.
type record struct {
	consecutiveFailures int
	lastFailureAt       time.Time
	nextAvailableAt     time.Time
}

// Tracker is the in-memory agent health/backoff gate (C2).
type Tracker struct {
	mu    sync.Mutex
	base  time.Duration
	cap   time.Duration
	now   func() time.Time
	byAgt map[string]*record
}

// New returns a Tracker using the spec's default base/cap.
func New() *Tracker {
	return NewWithParams(backoff.DefaultBase, backoff.DefaultCap)
}

// NewWithParams allows overriding base/cap, e.g. for tests.
func NewWithParams(base, cap time.Duration) *Tracker {
	return &Tracker{
		base:  base,
		cap:   cap,
		now:   time.Now,
		byAgt: make(map[string]*record),
	}
}

func (t *Tracker) getLocked(agent string) *record {
	r, ok := t.byAgt[agent]
	if !ok {
		r = &record{}
		t.byAgt[agent] = r
	}
	return r
}

// RecordSuccess resets an agent's failure counter and clears its backoff.
func (t *Tracker) RecordSuccess(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getLocked(agent)
	r.consecutiveFailures = 0
	r.nextAvailableAt = time.Time{}
}

// RecordFailure increments an agent's consecutive-failure count and sets
// its next-available-at timestamp per the backoff formula.
func (t *Tracker) RecordFailure(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getLocked(agent)
	now := t.now()
	r.lastFailureAt = now
	delay := backoff.Delay(r.consecutiveFailures, t.base, t.cap)
	r.consecutiveFailures++
	r.nextAvailableAt = now.Add(delay)
}

// IsAvailable reports whether the agent's backoff window has elapsed.
func (t *Tracker) IsAvailable(agent string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byAgt[agent]
	if !ok {
		return true
	}
	return !r.nextAvailableAt.After(now)
}

// BackoffSeconds returns the remaining backoff window in seconds, 0 if
// the agent is currently available.
func (t *Tracker) BackoffSeconds(agent string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byAgt[agent]
	if !ok {
		return 0
	}
	remaining := r.nextAvailableAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}

// ConsecutiveFailures returns the current failure streak for an agent,
// for status reporting.
func (t *Tracker) ConsecutiveFailures(agent string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byAgt[agent]
	if !ok {
		return 0
	}
	return r.consecutiveFailures
}

// Snapshot returns a copy of the per-agent backoff-remaining-seconds map,
// used by the scheduler's snapshot broadcast (spec §4.10 step 7).
func (t *Tracker) Snapshot(now time.Time) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.byAgt))
	for agent, r := range t.byAgt {
		remaining := r.nextAvailableAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out[agent] = int(remaining.Seconds())
	}
	return out
}

// Package traffic keeps sliding windows of request outcomes. The HTTP layer uses one
// Tracker for rate-limit gauges; the Model Fetcher keeps one per upstream model so
// health can report which models are failing.
package traffic

import (
	"sort"
	"sync"
	"time"
)

const defaultMaxAge = 5 * time.Minute

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu           sync.Mutex
	maxAge       time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker that retains outcomes for maxAge (5 minutes if zero).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// RecordSuccess records a successful outcome.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a failed outcome (upstream error, timeout, open breaker).
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, t.now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	return errCount, errCount + countInWindow(t.successTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}

// Set holds one Tracker per key, created on first use.
type Set struct {
	mu       sync.Mutex
	maxAge   time.Duration
	trackers map[string]*Tracker
}

// NewSet returns an empty Set whose trackers retain outcomes for maxAge.
func NewSet(maxAge time.Duration) *Set {
	return &Set{maxAge: maxAge, trackers: make(map[string]*Tracker)}
}

// For returns the tracker for key.
func (s *Set) For(key string) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[key]
	if !ok {
		t = NewTracker(s.maxAge)
		s.trackers[key] = t
	}
	return t
}

// Failing returns the sorted keys whose error rate within window is at or above
// threshold, ignoring keys with fewer than minSamples outcomes.
func (s *Set) Failing(window time.Duration, threshold float64, minSamples int) []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.trackers))
	trackers := make([]*Tracker, 0, len(s.trackers))
	for k, t := range s.trackers {
		keys = append(keys, k)
		trackers = append(trackers, t)
	}
	s.mu.Unlock()

	var failing []string
	for i, t := range trackers {
		errs, total := t.ErrorRate(window)
		if total == 0 || total < minSamples {
			continue
		}
		if float64(errs)/float64(total) >= threshold {
			failing = append(failing, keys[i])
		}
	}
	sort.Strings(failing)
	return failing
}

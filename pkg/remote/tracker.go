package remote

import (
	"sync"
	"time"
)

const (
	// latencyWindow is the number of recent response-time samples in
	// the rolling average
	latencyWindow = 20

	// latencyThreshold is the rolling average above which the throttle
	// engages
	latencyThreshold = 2 * time.Second

	// throttleDelay is the fixed delay injected before each request
	// while the throttle is engaged
	throttleDelay = 250 * time.Millisecond

	// throttleReleaseFactor gives the throttle hysteresis: it
	// disengages once the average falls below threshold x factor, so
	// it does not flap around the threshold
	throttleReleaseFactor = 0.75

	// minThrottleSamples is how many samples are needed before the
	// throttle may engage at all
	minThrottleSamples = 5
)

// latencyTracker is the shared per-run accumulator mutated by all fetch
// workers: response-time samples in a rolling window plus the derived
// throttle state. It is the only genuinely shared mutable state in a
// fetch run, so all access goes through one mutex.
type latencyTracker struct {
	mu         sync.Mutex
	samples    [latencyWindow]time.Duration
	count      int
	next       int
	throttling bool
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{}
}

// Record adds a response-time sample and re-evaluates the throttle.
func (t *latencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = d
	t.next = (t.next + 1) % latencyWindow
	if t.count < latencyWindow {
		t.count++
	}

	if t.count < minThrottleSamples {
		return
	}
	avg := t.averageLocked()
	if !t.throttling && avg > latencyThreshold {
		t.throttling = true
	} else if t.throttling && avg < time.Duration(float64(latencyThreshold)*throttleReleaseFactor) {
		t.throttling = false
	}
}

// Delay returns the pause a worker must take before its next request:
// zero when the remote is keeping up, throttleDelay once the rolling
// average crosses the threshold.
func (t *latencyTracker) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.throttling {
		return throttleDelay
	}
	return 0
}

// Average reports the current rolling average response time.
func (t *latencyTracker) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averageLocked()
}

func (t *latencyTracker) averageLocked() time.Duration {
	if t.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < t.count; i++ {
		total += t.samples[i]
	}
	return total / time.Duration(t.count)
}

// fetchAccumulator gathers results across concurrent workers: fetched
// items, failed collections and the completed count. Mutex-guarded so
// the bounded fan-out stays race-free.
type fetchAccumulator struct {
	mu        sync.Mutex
	items     []Item
	failures  []string
	completed int
}

func (a *fetchAccumulator) addItems(items []Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
	a.completed++
}

func (a *fetchAccumulator) addFailure(collectionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, collectionID)
	a.completed++
}

// addRetriedItems records items recovered by the serial retry pass.
// The collection was already counted when its first attempt failed.
func (a *fetchAccumulator) addRetriedItems(items []Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
}

func (a *fetchAccumulator) completedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

func (a *fetchAccumulator) takeFailures() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	failures := a.failures
	a.failures = nil
	return failures
}

func (a *fetchAccumulator) allItems() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.items
}

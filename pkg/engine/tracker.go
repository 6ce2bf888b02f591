package engine

import (
	"sync"
	"time"
)

// batchTracker follows one in-flight bulk operation against one terminal:
// the expected number of per-item acks, counted down as they arrive.
type batchTracker struct {
	expected  int
	remaining int
	startedAt time.Time
}

// Trackers holds the live batch trackers, keyed by serial. A serial with no
// tracker means nothing is being waited for, which is the normal state.
type Trackers struct {
	mu       sync.Mutex
	inFlight map[string]*batchTracker
	now      func() time.Time
}

// NewTrackers creates an empty tracker registry.
func NewTrackers() *Trackers {
	return &Trackers{
		inFlight: make(map[string]*batchTracker),
		now:      time.Now,
	}
}

// Start opens a tracker expecting n acks from the serial, replacing any
// stale tracker left from an earlier batch. A non-positive n is a no-op.
func (t *Trackers) Start(serial string, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight[serial] = &batchTracker{
		expected:  n,
		remaining: n,
		startedAt: t.now(),
	}
}

// DecrementAndDone counts one ack against the serial's tracker and reports
// whether the batch is complete. An absent tracker means nothing to wait
// for, so it reports done.
func (t *Trackers) DecrementAndDone(serial string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.inFlight[serial]
	if !ok {
		return true
	}
	tr.remaining--
	if tr.remaining <= 0 {
		delete(t.inFlight, serial)
		return true
	}
	return false
}

// Active reports whether the serial has an in-flight batch.
func (t *Trackers) Active(serial string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inFlight[serial]
	return ok
}

// Clear drops the serial's tracker, if any.
func (t *Trackers) Clear(serial string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, serial)
}

// ExpireOlderThan removes trackers older than maxAge and returns their
// serials. The scheduler calls this so an unresponsive terminal cannot
// leave tracking state behind forever.
func (t *Trackers) ExpireOlderThan(maxAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	var expired []string
	for serial, tr := range t.inFlight {
		if tr.startedAt.Before(cutoff) {
			delete(t.inFlight, serial)
			expired = append(expired, serial)
		}
	}
	return expired
}

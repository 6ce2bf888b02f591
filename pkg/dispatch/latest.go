package dispatch

import (
	"sync"
	"time"
)

// Latest is the latest-wins dispatcher: at most one pending entry per
// serial, and a newer payload replaces a queued one outright, resetting the
// attempt state. Superseding a stale request is the intended behaviour for
// the command kinds this family serves.
type Latest struct {
	mu      sync.Mutex
	pending map[string]*Pending
	now     func() time.Time
}

// NewLatest creates an empty latest-wins dispatcher.
func NewLatest() *Latest {
	return &Latest{
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Put registers payload as the serial's pending command, replacing any
// existing entry and resetting attempts and timestamps.
func (d *Latest) Put(serial string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[serial] = &Pending{
		Serial:    serial,
		Payload:   payload,
		CreatedAt: d.now(),
	}
}

// MarkSent records a send attempt for the serial's pending entry.
func (d *Latest) MarkSent(serial string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[serial]
	if !ok {
		return
	}
	t := d.now()
	p.LastSentAt = &t
	p.Attempts++
}

// Confirm removes the serial's pending entry. Returns false when nothing
// was pending, which callers treat as a stray ack.
func (d *Latest) Confirm(serial string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[serial]; !ok {
		return false
	}
	delete(d.pending, serial)
	return true
}

// Get returns a copy of the serial's pending entry.
func (d *Latest) Get(serial string) (Pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[serial]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// HasPending reports whether the serial has an unconfirmed entry.
func (d *Latest) HasPending(serial string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[serial]
	return ok
}

// Ready returns a copy of the serial's pending entry when the gate allows
// a send attempt now.
func (d *Latest) Ready(serial string, gate *RetryGate) (Pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[serial]
	if !ok || !gate.Ready(p, d.now()) {
		return Pending{}, false
	}
	return *p, true
}

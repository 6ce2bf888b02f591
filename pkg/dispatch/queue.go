package dispatch

import (
	"sync"
	"time"
)

// Key identifies one FIFO queue: a terminal plus, for per-user commands,
// the enroll id the commands target.
type Key struct {
	Serial   string
	EnrollID int
}

// QueueOptions bound a queue's delivery policy. Zero values mean unbounded.
type QueueOptions struct {
	// Window is how long an entry stays valid after registration. Entries
	// older than the window are dropped, never sent.
	Window time.Duration

	// MaxAttempts caps send attempts per entry.
	MaxAttempts int

	// Cooldown, when set, replaces exponential backoff with a fixed delay
	// between attempts. Used for short-lived commands like door opens.
	Cooldown time.Duration
}

// Queue is the FIFO dispatcher family: every registered entry must be
// individually delivered and confirmed, in registration order per key.
// Because the protocol carries no request id, the head of a queue is the
// entry the next matchingReply refers to.
type Queue struct {
	mu     sync.Mutex
	opts   QueueOptions
	queues map[Key][]*Pending
	now    func() time.Time
}

// NewQueue creates an unbounded FIFO dispatcher.
func NewQueue() *Queue {
	return NewQueueWithOptions(QueueOptions{})
}

// NewQueueWithOptions creates a FIFO dispatcher with a delivery policy.
func NewQueueWithOptions(opts QueueOptions) *Queue {
	return &Queue{
		opts:   opts,
		queues: make(map[Key][]*Pending),
		now:    time.Now,
	}
}

// Options returns the queue's delivery policy.
func (q *Queue) Options() QueueOptions {
	return q.opts
}

// Register appends a new entry to the key's queue.
func (q *Queue) Register(serial string, enrollID int, payload any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := Key{Serial: serial, EnrollID: enrollID}
	q.queues[k] = append(q.queues[k], &Pending{
		Serial:    serial,
		EnrollID:  enrollID,
		Payload:   payload,
		CreatedAt: q.now(),
	})
}

// Head returns a copy of the key's oldest entry.
func (q *Queue) Head(serial string, enrollID int) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.queues[Key{Serial: serial, EnrollID: enrollID}]
	if len(entries) == 0 {
		return Pending{}, false
	}
	return *entries[0], true
}

// MarkSent records a send attempt on the key's head entry.
func (q *Queue) MarkSent(serial string, enrollID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.queues[Key{Serial: serial, EnrollID: enrollID}]
	if len(entries) == 0 {
		return
	}
	t := q.now()
	entries[0].LastSentAt = &t
	entries[0].Attempts++
}

// Ack pops and returns the key's head entry: the inbound reply confirmed
// it. Returns false when the queue was empty (a stray ack).
func (q *Queue) Ack(serial string, enrollID int) (Pending, bool) {
	return q.pop(Key{Serial: serial, EnrollID: enrollID})
}

// AckAny pops the head of the serial's single non-empty queue regardless of
// enroll id. Replies that do not echo the target id correlate this way for
// kinds where only one queue per serial is ever populated at a time.
func (q *Queue) AckAny(serial string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest *Key
	var oldestAt time.Time
	for k := range q.queues {
		if k.Serial != serial || len(q.queues[k]) == 0 {
			continue
		}
		head := q.queues[k][0]
		if oldest == nil || head.CreatedAt.Before(oldestAt) {
			key := k
			oldest = &key
			oldestAt = head.CreatedAt
		}
	}
	if oldest == nil {
		return Pending{}, false
	}
	return q.popLocked(*oldest)
}

// Drop pops the key's head entry without confirmation.
func (q *Queue) Drop(serial string, enrollID int) (Pending, bool) {
	return q.pop(Key{Serial: serial, EnrollID: enrollID})
}

// HasPending reports whether the key's queue is non-empty.
func (q *Queue) HasPending(serial string, enrollID int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[Key{Serial: serial, EnrollID: enrollID}]) > 0
}

// Len returns the key's queue depth.
func (q *Queue) Len(serial string, enrollID int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[Key{Serial: serial, EnrollID: enrollID}])
}

// KeysFor returns the keys with pending entries for one serial.
func (q *Queue) KeysFor(serial string) []Key {
	q.mu.Lock()
	defer q.mu.Unlock()

	var keys []Key
	for k, entries := range q.queues {
		if k.Serial == serial && len(entries) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// Pump evaluates the head of each of the serial's queues against the
// delivery policy and the retry gate. It returns the entries that should be
// sent now and the entries it dropped because they were expired or out of
// attempts. Dropping cascades: when a head entry is dropped the next one is
// evaluated in the same pass.
func (q *Queue) Pump(serial string, gate *RetryGate) (ready []Pending, dropped []Dropped) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for k := range q.queues {
		if k.Serial != serial {
			continue
		}
		for len(q.queues[k]) > 0 {
			head := q.queues[k][0]

			if q.opts.Window > 0 && head.Age(now) > q.opts.Window {
				p, _ := q.popLocked(k)
				dropped = append(dropped, Dropped{Pending: p, Reason: DropExpired})
				continue
			}
			if q.opts.MaxAttempts > 0 && head.Attempts >= q.opts.MaxAttempts {
				p, _ := q.popLocked(k)
				dropped = append(dropped, Dropped{Pending: p, Reason: DropExhausted})
				continue
			}

			if q.readyLocked(head, gate, now) {
				ready = append(ready, *head)
			}
			break
		}
	}
	return ready, dropped
}

func (q *Queue) readyLocked(p *Pending, gate *RetryGate, now time.Time) bool {
	if p.LastSentAt == nil {
		return true
	}
	if q.opts.Cooldown > 0 {
		return now.Sub(*p.LastSentAt) >= q.opts.Cooldown
	}
	return gate.Ready(p, now)
}

func (q *Queue) pop(k Key) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked(k)
}

func (q *Queue) popLocked(k Key) (Pending, bool) {
	entries := q.queues[k]
	if len(entries) == 0 {
		return Pending{}, false
	}
	head := *entries[0]
	if len(entries) == 1 {
		delete(q.queues, k)
	} else {
		q.queues[k] = entries[1:]
	}
	return head, true
}

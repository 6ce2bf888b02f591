// Package dispatch owns the outbound command lifecycle: pending entries are
// created on register, stamped on each send attempt, and removed when the
// matching reply confirms them or when their policy drops them.
//
// Two dispatcher families cover the protocol's command kinds. Latest keeps
// at most one pending entry per serial and lets a newer payload supersede a
// queued one, which is correct for commands where only the newest desired
// value matters (device settings, clock sync). Queue keeps a strict FIFO per
// (serial, enroll id) for commands where every distinct request must be
// delivered and confirmed individually (door opens, deletes, name pushes).
// The FIFO order doubles as the reply correlation mechanism: the wire
// protocol does not echo a request id, so the head of the queue is by
// definition the entry an inbound ack refers to.
package dispatch

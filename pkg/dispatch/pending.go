package dispatch

import "time"

// Pending is one queued outbound command awaiting confirmation.
type Pending struct {
	// Serial is the target terminal.
	Serial string

	// EnrollID is the target user on the terminal, 0 for device-level
	// commands.
	EnrollID int

	// Payload is the command-specific frame body handed to the codec.
	Payload any

	// CreatedAt is when the entry was registered.
	CreatedAt time.Time

	// LastSentAt is the time of the most recent send attempt, nil when the
	// entry has never been sent.
	LastSentAt *time.Time

	// Attempts counts send attempts so far.
	Attempts int
}

// Age returns how long the entry has existed.
func (p *Pending) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// DropReason says why a pending entry was discarded without confirmation.
type DropReason int

const (
	// DropExpired: the entry outlived its validity window.
	DropExpired DropReason = iota

	// DropExhausted: the entry used up its attempt budget.
	DropExhausted
)

// String returns a log-friendly name for the reason.
func (r DropReason) String() string {
	switch r {
	case DropExpired:
		return "expired"
	case DropExhausted:
		return "attempts exhausted"
	default:
		return "dropped"
	}
}

// Dropped pairs a discarded entry with the policy reason.
type Dropped struct {
	Pending Pending
	Reason  DropReason
}

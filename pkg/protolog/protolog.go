// Package protolog is the protocol-frame logging seam. The transport and
// router emit one Event per frame crossing the wire; applications plug in
// a Logger implementation (or NoopLogger) to capture them.
package protolog

import (
	"time"

	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// Direction says which way a frame travelled.
type Direction uint8

const (
	// DirectionIn is terminal to server.
	DirectionIn Direction = iota

	// DirectionOut is server to terminal.
	DirectionOut
)

// String returns the wire-log shorthand for the direction.
func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// Event is one protocol occurrence: a frame sent or received, or a frame
// that failed to decode.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time

	// ConnectionID identifies the transport connection.
	ConnectionID string

	// Serial is the terminal's serial number, empty before registration.
	Serial string

	// Direction says which way the frame travelled.
	Direction Direction

	// Command is the frame's tag, CmdUnknown for undecodable frames.
	Command wire.Command

	// Size is the frame length in bytes.
	Size int

	// Err carries the decode or send error, if any.
	Err error
}

// Logger receives protocol events. Implementations must be thread-safe and
// should return quickly; blocking stalls the connection's read loop.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events. Safe for concurrent use as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

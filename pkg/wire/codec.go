package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the timestamp format terminals send and accept.
const TimeLayout = "2006-01-02 15:04:05"

// Codec errors.
var (
	// ErrEmptyFrame indicates a zero-length frame.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrNoTag indicates a frame without a cmd or ret field.
	ErrNoTag = errors.New("frame carries no command tag")
)

// FormatTime renders t in the terminal's timestamp format.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a terminal timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}

// envelope is the minimal shape shared by every frame: exactly one of cmd
// (command or unsolicited push) or ret (reply) is set.
type envelope struct {
	Cmd    string `json:"cmd"`
	Ret    string `json:"ret"`
	Result *bool  `json:"result"`
	Reason int    `json:"reason"`
}

// Tag is the routing information extracted from an inbound frame.
type Tag struct {
	// Command is the frame's command, or CmdUnknown.
	Command Command

	// Reply is true when the tag came from a ret field (the frame answers
	// a previously sent command) rather than a cmd field.
	Reply bool

	// Result is the reported outcome of a reply frame. Meaningless when
	// Reply is false.
	Result bool

	// Reason is the failure code of an unsuccessful reply, 0 otherwise.
	Reason int
}

// PeekTag extracts the routing tag from a raw frame without decoding the
// command-specific fields. It never fails on malformed input: anything that
// cannot be interpreted maps to CmdUnknown so the router can drop it.
func PeekTag(data []byte) Tag {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Tag{Command: CmdUnknown}
	}
	if env.Ret != "" {
		t := Tag{Command: ParseCommand(env.Ret), Reply: true, Reason: env.Reason}
		if env.Result != nil {
			t.Result = *env.Result
		}
		return t
	}
	if env.Cmd != "" {
		return Tag{Command: ParseCommand(env.Cmd)}
	}
	return Tag{Command: CmdUnknown}
}

// Encode marshals payload as a single JSON frame carrying cmd. Fields
// already present on the payload win: cmd is only added when the payload
// does not set one itself, and zero-valued optional fields marked omitempty
// stay off the wire.
func Encode(cmd Command, payload any) ([]byte, error) {
	if !cmd.IsValid() {
		return nil, fmt.Errorf("encode: invalid command %q", string(cmd))
	}

	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cmd, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("encode %s: payload is not an object: %w", cmd, err)
		}
	}
	if _, ok := fields["cmd"]; !ok {
		tag, _ := json.Marshal(string(cmd))
		fields["cmd"] = tag
	}

	return json.Marshal(fields)
}

// EncodeReply marshals a reply frame answering cmd. Extra carries any
// command-specific response fields and may be nil.
func EncodeReply(cmd Command, result bool, reason int, extra map[string]any) ([]byte, error) {
	if !cmd.IsValid() {
		return nil, fmt.Errorf("encode reply: invalid command %q", string(cmd))
	}

	fields := map[string]any{
		"ret":    string(cmd),
		"result": result,
	}
	if !result && reason != 0 {
		fields["reason"] = reason
	}
	for k, v := range extra {
		fields[k] = v
	}

	return json.Marshal(fields)
}

// Decode unmarshals a frame's command-specific fields into v.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

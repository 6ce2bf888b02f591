package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

func TestPeekTag_Command(t *testing.T) {
	tag := wire.PeekTag([]byte(`{"cmd":"reg","sn":"ZX1234"}`))
	assert.Equal(t, wire.CmdReg, tag.Command)
	assert.False(t, tag.Reply)
}

func TestPeekTag_Reply(t *testing.T) {
	tag := wire.PeekTag([]byte(`{"ret":"setuserinfo","result":true}`))
	assert.Equal(t, wire.CmdSetUserInfo, tag.Command)
	assert.True(t, tag.Reply)
	assert.True(t, tag.Result)
}

func TestPeekTag_FailureReply(t *testing.T) {
	tag := wire.PeekTag([]byte(`{"ret":"opendoor","result":false,"reason":6}`))
	assert.Equal(t, wire.CmdOpenDoor, tag.Command)
	assert.True(t, tag.Reply)
	assert.False(t, tag.Result)
	assert.Equal(t, 6, tag.Reason)
}

func TestPeekTag_MalformedInput(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json at all`,
		`{"cmd":42}`,
		`{"nocmd":"here"}`,
		`{"cmd":"definitely-not-a-command"}`,
		`[1,2,3]`,
	} {
		tag := wire.PeekTag([]byte(raw))
		assert.Equal(t, wire.CmdUnknown, tag.Command, "input %q", raw)
	}
}

func TestEncode_AddsTagWhenAbsent(t *testing.T) {
	data, err := wire.Encode(wire.CmdOpenDoor, wire.OpenDoor{DoorNum: 1})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "opendoor", got["cmd"])
	assert.Equal(t, float64(1), got["doornum"])
}

func TestEncode_PayloadTagWins(t *testing.T) {
	data, err := wire.Encode(wire.CmdSetTime, map[string]any{
		"cmd":       "settime",
		"cloudtime": "2026-08-28 10:00:00",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "settime", got["cmd"])
}

func TestEncode_OmitsUnsetOptionalFields(t *testing.T) {
	data, err := wire.Encode(wire.CmdSetDevInfo, wire.SetDevInfo{Volume: 5})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, float64(5), got["volume"])
	_, hasLanguage := got["language"]
	assert.False(t, hasLanguage, "zero-valued optional fields must stay off the wire")
}

func TestEncode_RejectsUnknownCommand(t *testing.T) {
	_, err := wire.Encode(wire.CmdUnknown, nil)
	assert.Error(t, err)
}

func TestEncodeReply_Success(t *testing.T) {
	data, err := wire.EncodeReply(wire.CmdReg, true, 0, map[string]any{
		"cloudtime": "2026-08-28 10:00:00",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "reg", got["ret"])
	assert.Equal(t, true, got["result"])
	assert.Equal(t, "2026-08-28 10:00:00", got["cloudtime"])
	_, hasReason := got["reason"]
	assert.False(t, hasReason)
}

func TestEncodeReply_FailureCarriesReason(t *testing.T) {
	data, err := wire.EncodeReply(wire.CmdReg, false, 1, nil)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, false, got["result"])
	assert.Equal(t, float64(1), got["reason"])
}

func TestParseCommand_ClosedSet(t *testing.T) {
	assert.Equal(t, wire.CmdDeleteUser, wire.ParseCommand("deleteuser"))
	assert.Equal(t, wire.CmdUnknown, wire.ParseCommand("formatdisk"))
	assert.Equal(t, wire.CmdUnknown, wire.ParseCommand(""))
}

func TestParseTime_RoundTrip(t *testing.T) {
	parsed, err := wire.ParseTime("2026-08-28 09:30:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28 09:30:00", wire.FormatTime(parsed))
}

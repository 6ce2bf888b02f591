package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

func validDevInfo() *wire.DevInfo {
	return &wire.DevInfo{
		ModelName: "TFS30",
		FPAlgo:    "thbio3.0",
		Firmware:  "2.18",
		Time:      "2026-08-28 09:00:00",
		UserSize:  3000,
		FPSize:    3000,
		CardSize:  3000,
		PwdSize:   3000,
		LogSize:   100000,
		UsedUser:  12,
	}
}

func TestDevInfo_Validate(t *testing.T) {
	require.NoError(t, validDevInfo().Validate())
}

func TestDevInfo_ValidateMissingFields(t *testing.T) {
	var nilInfo *wire.DevInfo
	assert.Error(t, nilInfo.Validate())

	noModel := validDevInfo()
	noModel.ModelName = " "
	assert.Error(t, noModel.Validate())

	negative := validDevInfo()
	negative.LogSize = -1
	assert.Error(t, negative.Validate())
}

func TestSendUserFrame_RecordString(t *testing.T) {
	var fp wire.SendUserFrame
	require.NoError(t, json.Unmarshal(
		[]byte(`{"enrollid":7,"backupnum":0,"record":"TEMPLATEDATA"}`), &fp))
	assert.Equal(t, "TEMPLATEDATA", fp.RecordString())

	var card wire.SendUserFrame
	require.NoError(t, json.Unmarshal(
		[]byte(`{"enrollid":7,"backupnum":11,"record":2552871533}`), &card))
	assert.Equal(t, "2552871533", card.RecordString())

	var empty wire.SendUserFrame
	require.NoError(t, json.Unmarshal([]byte(`{"enrollid":7}`), &empty))
	assert.Equal(t, "", empty.RecordString())
}

func TestSendLogFrame_Decode(t *testing.T) {
	raw := []byte(`{"cmd":"sendlog","count":2,"logindex":14,"record":[` +
		`{"enrollid":7,"time":"2026-08-28 08:59:00","mode":0,"inout":0,"event":0},` +
		`{"enrollid":9,"time":"2026-08-28 09:00:10","mode":1,"inout":1,"event":0}]}`)

	var frame wire.SendLogFrame
	require.NoError(t, wire.Decode(raw, &frame))
	require.Len(t, frame.Records, 2)
	assert.Equal(t, 7, frame.Records[0].EnrollID)
	assert.Equal(t, 1, frame.Records[1].InOut)
	assert.Equal(t, 14, frame.Index)
}

package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

func sendUserFrame(t *testing.T, enrollID, backupNum int, name string, record any) []byte {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"cmd":       "senduser",
		"enrollid":  enrollID,
		"name":      name,
		"backupnum": backupNum,
		"admin":     0,
		"record":    record,
	})
	require.NoError(t, err)
	return data
}

func TestEngine_SendUserStoresFingerprint(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-up")

	e.OnMessage(conn, sendUserFrame(t, 21, 0, "R. Vasquez", "TEMPLATEDATA=="))

	reply := conn.lastFrame(t)
	assert.Equal(t, "senduser", reply["ret"])
	assert.Equal(t, true, reply["result"])

	user, err := st.Users().ByEnrollID(context.Background(), 1, 21)
	require.NoError(t, err)
	creds, err := st.Credentials().ForUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "TEMPLATEDATA==", creds[0].Record)
	assert.Equal(t, 0, creds[0].BackupNum)
}

func TestEngine_SendUserHashesPassword(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-up")

	// Terminals send numeric passwords as bare JSON numbers.
	e.OnMessage(conn, sendUserFrame(t, 22, wire.BackupPassword, "", 123456))

	user, err := st.Users().ByEnrollID(context.Background(), 1, 22)
	require.NoError(t, err)
	creds, err := st.Credentials().ForUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)

	assert.NotEqual(t, "123456", creds[0].Record)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(creds[0].Record), []byte("123456")))
}

func TestEngine_SendUserGrantsUploadingDevice(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-up")

	e.OnMessage(conn, sendUserFrame(t, 23, 0, "M. Okafor", "TPL"))

	dev, err := st.Devices().BySerial(context.Background(), "TL-up")
	require.NoError(t, err)
	grant, err := st.Grants().ByDeviceAndEnroll(context.Background(), dev.ID, 23)
	require.NoError(t, err)
	assert.False(t, grant.NeedsCredentialPush,
		"the uploading terminal already holds the record")
	assert.True(t, grant.Enabled)
}

func TestEngine_SendUserReplicatesToSiblings(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-up")

	_, err := st.Devices().Upsert(context.Background(), &store.Device{Serial: "TL-sib", CompanyID: 1})
	require.NoError(t, err)
	_, err = st.Devices().Upsert(context.Background(), &store.Device{Serial: "TL-other", CompanyID: 2})
	require.NoError(t, err)

	e.OnMessage(conn, sendUserFrame(t, 24, 0, "L. Chen", "TPL"))

	assert.True(t, e.disp.SetUserInfoReplica.HasPending("TL-sib", 24))
	assert.True(t, e.disp.SetUserNameReplica.HasPending("TL-sib", 24))
	assert.False(t, e.disp.SetUserInfoReplica.HasPending("TL-up", 24),
		"the origin terminal must not get its own record back")
	assert.False(t, e.disp.SetUserInfoReplica.HasPending("TL-other", 24),
		"replication stays within the company")
}

func TestEngine_SendUserCompletesBulkUpload(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := register(t, e, "TL-up")

	e.trackers.Start("TL-up", 2)

	e.OnMessage(conn, sendUserFrame(t, 30, 0, "", "TPL1"))
	assert.True(t, e.trackers.Active("TL-up"))

	e.OnMessage(conn, sendUserFrame(t, 31, 0, "", "TPL2"))
	assert.False(t, e.trackers.Active("TL-up"))
}

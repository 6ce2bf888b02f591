package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

func replyFrame(t *testing.T, cmd string, result bool, extra map[string]any) []byte {
	t.Helper()

	m := map[string]any{"ret": cmd, "result": result}
	for k, v := range extra {
		m[k] = v
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestEngine_DoorAckPopsQueue(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := register(t, e, "TL-door")

	require.NoError(t, e.OpenDoor("TL-door", 1))
	e.OnMessage(conn, replyFrame(t, "opendoor", true, nil))

	assert.False(t, e.disp.OpenDoor.HasPending("TL-door", 0))
}

func TestEngine_FailureReplyLeavesPending(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := register(t, e, "TL-door")

	require.NoError(t, e.OpenDoor("TL-door", 1))
	e.OnMessage(conn, replyFrame(t, "opendoor", false, map[string]any{"reason": 4}))

	assert.True(t, e.disp.OpenDoor.HasPending("TL-door", 0),
		"a rejected command stays queued for the retry gate")
}

func TestEngine_SetUserInfoAckClearsGrantFlag(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-ack")

	dev, err := st.Devices().BySerial(context.Background(), "TL-ack")
	require.NoError(t, err)
	user := st.AddUser(store.User{CompanyID: 1, EnrollID: 55, Name: "A. Silva"})
	grant, err := st.Grants().Upsert(context.Background(), &store.AccessGrant{
		UserID: user.ID, DeviceID: dev.ID, EnrollID: 55,
		Enabled: true, NeedsCredentialPush: true,
	})
	require.NoError(t, err)

	e.disp.SetUserInfo.Register("TL-ack", 55, wire.SetUserInfo{EnrollID: 55})
	e.OnMessage(conn, replyFrame(t, "setuserinfo", true, nil))

	got, err := st.Grants().ByDeviceAndEnroll(context.Background(), dev.ID, grant.EnrollID)
	require.NoError(t, err)
	assert.False(t, got.NeedsCredentialPush)
	assert.False(t, e.disp.SetUserInfo.HasPending("TL-ack", 55))
}

func TestEngine_SetUserInfoAckKeepsFlagWhileQueueDrains(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-ack")

	dev, err := st.Devices().BySerial(context.Background(), "TL-ack")
	require.NoError(t, err)
	user := st.AddUser(store.User{CompanyID: 1, EnrollID: 56, Name: "B. Varga"})
	_, err = st.Grants().Upsert(context.Background(), &store.AccessGrant{
		UserID: user.ID, DeviceID: dev.ID, EnrollID: 56,
		Enabled: true, NeedsCredentialPush: true,
	})
	require.NoError(t, err)

	// Two records queued for the same enroll id: the flag clears only
	// when the last one is confirmed.
	e.disp.SetUserInfo.Register("TL-ack", 56, wire.SetUserInfo{EnrollID: 56, BackupNum: 0})
	e.disp.SetUserInfo.Register("TL-ack", 56, wire.SetUserInfo{EnrollID: 56, BackupNum: 11})

	e.OnMessage(conn, replyFrame(t, "setuserinfo", true, nil))
	got, err := st.Grants().ByDeviceAndEnroll(context.Background(), dev.ID, 56)
	require.NoError(t, err)
	assert.True(t, got.NeedsCredentialPush)

	e.OnMessage(conn, replyFrame(t, "setuserinfo", true, nil))
	got, err = st.Grants().ByDeviceAndEnroll(context.Background(), dev.ID, 56)
	require.NoError(t, err)
	assert.False(t, got.NeedsCredentialPush)
}

func TestEngine_DeleteUserAckRemovesGrant(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-del")

	dev, err := st.Devices().BySerial(context.Background(), "TL-del")
	require.NoError(t, err)
	user := st.AddUser(store.User{CompanyID: 1, EnrollID: 60})
	_, err = st.Grants().Upsert(context.Background(), &store.AccessGrant{
		UserID: user.ID, DeviceID: dev.ID, EnrollID: 60, NeedsDelete: true,
	})
	require.NoError(t, err)

	e.disp.DeleteUser.Register("TL-del", 60, wire.DeleteUser{EnrollID: 60, BackupNum: wire.BackupAll})
	e.OnMessage(conn, replyFrame(t, "deleteuser", true, map[string]any{"enrollid": 60}))

	_, err = st.Grants().ByDeviceAndEnroll(context.Background(), dev.ID, 60)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngine_CleanUserAckFlagsAllGrants(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-wipe")

	dev, err := st.Devices().BySerial(context.Background(), "TL-wipe")
	require.NoError(t, err)
	for _, enrollID := range []int{1, 2, 3} {
		user := st.AddUser(store.User{CompanyID: 1, EnrollID: enrollID})
		_, err := st.Grants().Upsert(context.Background(), &store.AccessGrant{
			UserID: user.ID, DeviceID: dev.ID, EnrollID: enrollID, Enabled: true,
		})
		require.NoError(t, err)
	}

	require.NoError(t, e.Maintenance("TL-wipe", "cleanuser"))
	e.OnMessage(conn, replyFrame(t, "cleanuser", true, nil))

	pending, err := st.Grants().PendingCredentials(context.Background(), dev.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "a wiped terminal needs every credential pushed again")
}

func TestEngine_SetDevInfoAckConfirmsSettings(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-cfg")

	dev, err := st.Devices().BySerial(context.Background(), "TL-cfg")
	require.NoError(t, err)
	dev.SettingsPending = true
	_, err = st.Devices().Upsert(context.Background(), dev)
	require.NoError(t, err)

	e.disp.SetDevInfo.Put("TL-cfg", wire.SetDevInfo{Volume: 5})
	e.OnMessage(conn, replyFrame(t, "setdevinfo", true, nil))

	assert.False(t, e.disp.SetDevInfo.HasPending("TL-cfg"))
	got, err := st.Devices().BySerial(context.Background(), "TL-cfg")
	require.NoError(t, err)
	assert.False(t, got.SettingsPending)
}

func TestEngine_GetUserListAckStartsTracker(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := register(t, e, "TL-bulk")

	require.NoError(t, e.Maintenance("TL-bulk", "getuserlist"))
	e.OnMessage(conn, replyFrame(t, "getuserlist", true, map[string]any{"count": 4}))

	assert.False(t, e.disp.GetUserList.HasPending("TL-bulk", 0))
	assert.True(t, e.trackers.Active("TL-bulk"))
}

func TestEngine_ReplicaAckDoesNotTouchGrants(t *testing.T) {
	e, st := newTestEngine(t)
	conn := register(t, e, "TL-rep")

	dev, err := st.Devices().BySerial(context.Background(), "TL-rep")
	require.NoError(t, err)
	user := st.AddUser(store.User{CompanyID: 1, EnrollID: 70})
	_, err = st.Grants().Upsert(context.Background(), &store.AccessGrant{
		UserID: user.ID, DeviceID: dev.ID, EnrollID: 70, NeedsCredentialPush: true,
	})
	require.NoError(t, err)

	e.disp.SetUserInfoReplica.Register("TL-rep", 70, wire.SetUserInfo{EnrollID: 70})
	e.OnMessage(conn, replyFrame(t, "setuserinfo", true, nil))

	assert.False(t, e.disp.SetUserInfoReplica.HasPending("TL-rep", 70))
	got, err := st.Grants().ByDeviceAndEnroll(context.Background(), dev.ID, 70)
	require.NoError(t, err)
	assert.True(t, got.NeedsCredentialPush,
		"a replica confirmation must not clear the direct push flag")
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/dispatch"
	"github.com/termlink-protocol/termlink-go/pkg/protolog"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/store/memory"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	serial string
	sent   [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("conn closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetSerial(serial string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial = serial
}

func (c *fakeConn) Serial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	frames := c.frames()
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

var testBase = time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()

	st := memory.New()
	e := New(st, Config{}, nil)
	e.now = func() time.Time { return testBase }
	return e, st
}

func regFrame(t *testing.T, serial string) []byte {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"cmd": "reg",
		"sn":  serial,
		"devinfo": map[string]any{
			"modelname": "TFACE-9",
			"fpalgo":    "thbio3.0",
			"firmware":  "2.1.44",
			"time":      wire.FormatTime(testBase),
			"usersize":  3000,
			"fpsize":    3000,
			"cardsize":  3000,
			"pwdsize":   3000,
			"logsize":   100000,
			"useduser":  12,
			"usedfp":    8,
		},
	})
	require.NoError(t, err)
	return data
}

// register connects and registers a terminal, returning its connection.
func register(t *testing.T, e *Engine, serial string) *fakeConn {
	t.Helper()

	conn := newFakeConn("conn-" + serial)
	e.OnConnect(conn)
	e.OnMessage(conn, regFrame(t, serial))
	require.True(t, e.sessions.IsOpen(serial))
	return conn
}

func TestEngine_RegisterTerminal(t *testing.T) {
	e, st := newTestEngine(t)

	conn := register(t, e, "TL-0001")

	reply := conn.lastFrame(t)
	assert.Equal(t, "reg", reply["ret"])
	assert.Equal(t, true, reply["result"])
	assert.Equal(t, wire.FormatTime(testBase), reply["cloudtime"])

	dev, err := st.Devices().BySerial(context.Background(), "TL-0001")
	require.NoError(t, err)
	assert.Equal(t, store.DeviceConnected, dev.Status)
	assert.Equal(t, "TFACE-9", dev.ModelName)
	assert.Equal(t, 3000, dev.UserCapacity)
	assert.Equal(t, "TL-0001", conn.Serial())
}

func TestEngine_RegisterRejectsMissingDevInfo(t *testing.T) {
	e, _ := newTestEngine(t)

	conn := newFakeConn("conn-1")
	data, err := json.Marshal(map[string]any{"cmd": "reg", "sn": "TL-0002"})
	require.NoError(t, err)
	e.OnMessage(conn, data)

	reply := conn.lastFrame(t)
	assert.Equal(t, "reg", reply["ret"])
	assert.Equal(t, false, reply["result"])
	assert.EqualValues(t, 1, reply["reason"])
	assert.False(t, e.sessions.IsOpen("TL-0002"))
}

func TestEngine_ReconnectSupersedesOldConnection(t *testing.T) {
	e, st := newTestEngine(t)

	old := register(t, e, "TL-0003")
	renewed := newFakeConn("conn-renewed")
	e.OnMessage(renewed, regFrame(t, "TL-0003"))

	assert.True(t, old.closed)
	assert.True(t, e.sessions.Current("TL-0003", renewed))

	// A frame arriving late on the superseded connection must not reach
	// the store.
	logData, err := json.Marshal(map[string]any{
		"cmd":   "sendlog",
		"count": 1,
		"record": []map[string]any{{
			"enrollid": 7, "time": wire.FormatTime(testBase), "event": 0,
		}},
	})
	require.NoError(t, err)
	e.OnMessage(old, logData)
	assert.Zero(t, st.LogCount())

	// The stale disconnect must not evict the renewed session.
	e.OnDisconnect(old)
	assert.True(t, e.sessions.IsOpen("TL-0003"))
}

func TestEngine_DisconnectMarksDeviceOffline(t *testing.T) {
	e, st := newTestEngine(t)

	conn := register(t, e, "TL-0004")
	e.OnDisconnect(conn)

	assert.False(t, e.sessions.IsOpen("TL-0004"))
	dev, err := st.Devices().BySerial(context.Background(), "TL-0004")
	require.NoError(t, err)
	assert.Equal(t, store.DeviceDisconnected, dev.Status)
}

func TestEngine_FrameBeforeRegistrationDropped(t *testing.T) {
	e, st := newTestEngine(t)

	conn := newFakeConn("conn-early")
	data, err := json.Marshal(map[string]any{
		"cmd":    "sendlog",
		"count":  1,
		"record": []map[string]any{{"enrollid": 1, "time": wire.FormatTime(testBase)}},
	})
	require.NoError(t, err)
	e.OnMessage(conn, data)

	assert.Zero(t, st.LogCount())
	assert.Empty(t, conn.frames())
}

func TestEngine_OpenDoorRequiresSession(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.OpenDoor("TL-none", 1)
	require.Error(t, err)

	register(t, e, "TL-0005")
	require.NoError(t, e.OpenDoor("TL-0005", 1))
	assert.True(t, e.disp.OpenDoor.HasPending("TL-0005", 0))
}

func TestEngine_MaintenanceRejectsUnknownAction(t *testing.T) {
	e, _ := newTestEngine(t)
	register(t, e, "TL-0006")

	err := e.Maintenance("TL-0006", "formatdisk")
	require.ErrorIs(t, err, ErrUnknownAction)

	require.NoError(t, e.Maintenance("TL-0006", "cleanlog"))
	assert.True(t, e.disp.CleanLog.HasPending("TL-0006", 0))
}

type recordingProtoLog struct {
	mu     sync.Mutex
	events []protolog.Event
}

func (l *recordingProtoLog) Log(event protolog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingProtoLog) tags(dir protolog.Direction) []wire.Command {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []wire.Command
	for _, ev := range l.events {
		if ev.Direction == dir {
			out = append(out, ev.Command)
		}
	}
	return out
}

func TestEngine_ProtocolLogRecordsFrameTags(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recordingProtoLog{}
	e.SetProtocolLogger(rec)

	register(t, e, "TL-0010")
	require.NoError(t, e.OpenDoor("TL-0010", 1))
	e.pumpQueue("TL-0010", e.disp.OpenDoor, wire.CmdOpenDoor)

	assert.Equal(t, []wire.Command{wire.CmdReg}, rec.tags(protolog.DirectionIn))
	assert.Equal(t, []wire.Command{wire.CmdReg, wire.CmdOpenDoor}, rec.tags(protolog.DirectionOut))
}

func TestEngine_MaintenanceRoutesEveryAction(t *testing.T) {
	e, _ := newTestEngine(t)
	register(t, e, "TL-0011")

	actions := map[string]*dispatch.Queue{
		"cleanuser":     e.disp.CleanUser,
		"cleanlog":      e.disp.CleanLog,
		"cleanadmin":    e.disp.CleanAdmin,
		"cleanuserlock": e.disp.CleanLock,
		"initsys":       e.disp.InitSys,
		"reboot":        e.disp.Reboot,
		"getuserlist":   e.disp.GetUserList,
		"getalllog":     e.disp.GetAllLog,
		"getnewlog":     e.disp.GetNewLog,
	}
	for action, q := range actions {
		require.NoError(t, e.Maintenance("TL-0011", action), action)
		assert.True(t, q.HasPending("TL-0011", 0), action)
	}
}

func TestEngine_MaintenanceUserListRequestsShortListing(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := register(t, e, "TL-0012")

	require.NoError(t, e.Maintenance("TL-0012", "getuserlist"))
	e.pumpQueue("TL-0012", e.disp.GetUserList, wire.CmdGetUserList)

	frame := conn.lastFrame(t)
	assert.Equal(t, "getuserlist", frame["cmd"])
	assert.Equal(t, true, frame["stn"])
}

func TestEngine_DevicesReportsLiveness(t *testing.T) {
	e, st := newTestEngine(t)

	register(t, e, "TL-on")
	_, err := st.Devices().Upsert(context.Background(), &store.Device{Serial: "TL-off", CompanyID: 1})
	require.NoError(t, err)

	views, err := e.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)

	bySerial := map[string]bool{}
	for _, v := range views {
		bySerial[v.Serial] = v.Online
	}
	assert.True(t, bySerial["TL-on"])
	assert.False(t, bySerial["TL-off"])
}

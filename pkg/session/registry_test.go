package session_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/session"
)

// fakeConn is a minimal recording connection for registry tests.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegistry_RegisterReplacesPreviousSession(t *testing.T) {
	reg := session.NewRegistry()
	old := newFakeConn("conn-1")
	reg.Register("SN100", old)

	fresh := newFakeConn("conn-2")
	reg.Register("SN100", fresh)

	s := reg.Get("SN100")
	require.NotNil(t, s)
	assert.Equal(t, "conn-2", s.Conn.ID())
	assert.True(t, old.wasClosed(), "superseded connection should be closed")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RemoveWithStaleHandleIsNoop(t *testing.T) {
	reg := session.NewRegistry()
	old := newFakeConn("conn-1")
	reg.Register("SN100", old)

	fresh := newFakeConn("conn-2")
	reg.Register("SN100", fresh)

	// The old connection's disconnect callback fires late.
	assert.False(t, reg.Remove("SN100", old))
	assert.True(t, reg.IsOpen("SN100"))

	assert.True(t, reg.Remove("SN100", fresh))
	assert.False(t, reg.IsOpen("SN100"))
}

func TestRegistry_CurrentRejectsSupersededConnection(t *testing.T) {
	reg := session.NewRegistry()
	old := newFakeConn("conn-1")
	reg.Register("SN100", old)
	fresh := newFakeConn("conn-2")
	reg.Register("SN100", fresh)

	assert.False(t, reg.Current("SN100", old))
	assert.True(t, reg.Current("SN100", fresh))
	assert.False(t, reg.Current("SN999", fresh))
}

func TestRegistry_SendToAbsentSerial(t *testing.T) {
	reg := session.NewRegistry()
	err := reg.Send("SN404", []byte(`{}`))
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestRegistry_SendDeliversToCurrentConn(t *testing.T) {
	reg := session.NewRegistry()
	conn := newFakeConn("conn-1")
	reg.Register("SN100", conn)

	require.NoError(t, reg.Send("SN100", []byte(`{"cmd":"gettime"}`)))
	assert.Len(t, conn.sent, 1)
}

func TestRegistry_SerialsSnapshot(t *testing.T) {
	reg := session.NewRegistry()
	reg.Register("SN1", newFakeConn("c1"))
	reg.Register("SN2", newFakeConn("c2"))

	serials := reg.Serials()
	assert.ElementsMatch(t, []string{"SN1", "SN2"}, serials)
}

func TestRegistry_ConcurrentRegisterAndLookup(t *testing.T) {
	reg := session.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			serial := string(rune('A' + n%8))
			conn := newFakeConn(serial + "-conn")
			reg.Register(serial, conn)
			reg.IsOpen(serial)
			reg.Serials()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, reg.Len())
}

package engine

import (
	"context"

	"github.com/termlink-protocol/termlink-go/pkg/protolog"
	"github.com/termlink-protocol/termlink-go/pkg/session"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// TermConn is the connection handle the engine routes frames for. The
// transport layer's connections satisfy it.
type TermConn interface {
	session.Conn

	// SetSerial binds the terminal's serial to the connection once the
	// registration frame identifies it.
	SetSerial(serial string)

	// Serial returns the bound serial, or "" before registration.
	Serial() string
}

// OnConnect is invoked for every new terminal connection. Nothing happens
// until the terminal identifies itself with a registration frame.
func (e *Engine) OnConnect(conn TermConn) {
	e.log.Debug("terminal connected", "conn", conn.ID())
}

// OnDisconnect removes the connection's session. A disconnect from a
// connection that was already superseded leaves the newer session alone.
func (e *Engine) OnDisconnect(conn TermConn) {
	serial := conn.Serial()
	if serial == "" {
		return
	}
	if !e.sessions.Remove(serial, conn) {
		e.log.Debug("stale disconnect ignored", "serial", serial, "conn", conn.ID())
		return
	}

	e.log.Info("terminal disconnected", "serial", serial)
	if err := e.st.Devices().SetStatus(context.Background(), serial, store.DeviceDisconnected); err != nil {
		e.log.Error("mark device disconnected", "serial", serial, "error", err)
	}
}

// OnMessage routes one inbound frame. Every frame is either an unsolicited
// push (cmd) or a reply to a previously sent command (ret); anything else
// is logged and dropped without affecting the connection.
func (e *Engine) OnMessage(conn TermConn, data []byte) {
	tag := wire.PeekTag(data)

	e.plog.Log(protolog.Event{
		Timestamp:    e.now(),
		ConnectionID: conn.ID(),
		Serial:       conn.Serial(),
		Direction:    protolog.DirectionIn,
		Command:      tag.Command,
		Size:         len(data),
	})

	if tag.Command == wire.CmdUnknown {
		e.log.Warn("unroutable frame dropped", "conn", conn.ID(), "size", len(data))
		return
	}

	// Registration is the only frame accepted from an unbound connection,
	// and the only one a superseded connection may still send (it becomes
	// current again by registering).
	if !tag.Reply && tag.Command == wire.CmdReg {
		e.handleReg(conn, data)
		return
	}

	serial := conn.Serial()
	if serial == "" {
		e.log.Warn("frame before registration dropped", "conn", conn.ID(), "cmd", tag.Command)
		return
	}
	if !e.sessions.Current(serial, conn) {
		e.log.Debug("frame from superseded connection dropped",
			"serial", serial, "conn", conn.ID(), "cmd", tag.Command)
		return
	}

	if tag.Reply {
		e.handleReply(serial, tag, data)
		return
	}

	switch tag.Command {
	case wire.CmdSendLog:
		e.handleSendLog(conn, serial, data)
	case wire.CmdSendUser:
		e.handleSendUser(conn, serial, data)
	case wire.CmdEvent:
		e.handleEvent(conn, serial, data)
	default:
		e.log.Warn("unexpected inbound command dropped", "serial", serial, "cmd", tag.Command)
	}
}

// reply sends a ret frame back on the connection the request arrived on.
func (e *Engine) reply(conn TermConn, cmd wire.Command, result bool, reason int, extra map[string]any) {
	data, err := wire.EncodeReply(cmd, result, reason, extra)
	if err != nil {
		e.log.Error("encode reply", "cmd", cmd, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		e.log.Debug("send reply", "cmd", cmd, "conn", conn.ID(), "error", err)
		return
	}
	e.plog.Log(protolog.Event{
		Timestamp:    e.now(),
		ConnectionID: conn.ID(),
		Serial:       conn.Serial(),
		Direction:    protolog.DirectionOut,
		Command:      cmd,
		Size:         len(data),
	})
}

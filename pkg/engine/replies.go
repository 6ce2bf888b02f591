package engine

import (
	"context"

	"github.com/termlink-protocol/termlink-go/pkg/dispatch"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// handleReply correlates a ret frame with the pending command it answers
// and applies the store effect the confirmation implies. The protocol
// carries no request id: correlation is positional, each reply confirming
// the oldest pending entry of its command kind for the serial, which holds
// because delivery is strictly FIFO per target.
func (e *Engine) handleReply(serial string, tag wire.Tag, data []byte) {
	var body struct {
		EnrollID int `json:"enrollid"`
		Count    int `json:"count"`
	}
	_ = wire.Decode(data, &body)

	// A failure reply leaves the pending entry queued; the retry gate
	// decides when it goes out again.
	if !tag.Result {
		e.log.Warn("command rejected by terminal",
			"serial", serial, "cmd", tag.Command, "reason", tag.Reason)
		return
	}

	ctx := context.Background()

	switch tag.Command {
	case wire.CmdSetUserInfo:
		e.ackUserPush(ctx, serial, body.EnrollID,
			e.disp.SetUserInfo, e.disp.SetUserInfoReplica, e.clearCredentialFlag)

	case wire.CmdSetUserName:
		e.ackUserPush(ctx, serial, body.EnrollID,
			e.disp.SetUserName, e.disp.SetUserNameReplica, e.clearNameFlag)

	case wire.CmdDeleteUser:
		if p, ok := ack(e.disp.DeleteUser, serial, body.EnrollID); ok {
			e.removeGrant(ctx, serial, p.EnrollID)
		} else {
			e.strayReply(serial, tag)
		}

	case wire.CmdDeleteLock:
		if _, ok := ack(e.disp.DeleteLock, serial, body.EnrollID); !ok {
			e.strayReply(serial, tag)
		}

	case wire.CmdSetUserLock:
		if _, ok := ack(e.disp.SetUserLock, serial, body.EnrollID); !ok {
			e.strayReply(serial, tag)
		}

	case wire.CmdEnableUser:
		if p, ok := ack(e.disp.EnableUser, serial, body.EnrollID); ok {
			e.clearEnableFlag(ctx, serial, p.EnrollID)
		} else {
			e.strayReply(serial, tag)
		}

	case wire.CmdOpenDoor:
		if _, ok := ack(e.disp.OpenDoor, serial, 0); ok {
			e.log.Info("door released", "serial", serial)
		} else {
			e.strayReply(serial, tag)
		}

	case wire.CmdSetTime:
		if !e.disp.SetTime.Confirm(serial) {
			e.strayReply(serial, tag)
		}

	case wire.CmdSetDevInfo:
		if e.disp.SetDevInfo.Confirm(serial) {
			e.confirmSettings(ctx, serial)
		} else {
			e.strayReply(serial, tag)
		}

	case wire.CmdSetDevLock:
		if !e.disp.SetDevLock.Confirm(serial) {
			e.strayReply(serial, tag)
		}

	case wire.CmdCleanUser:
		if _, ok := ack(e.disp.CleanUser, serial, 0); ok {
			// The terminal's user memory is gone; every grant needs a
			// fresh credential push.
			e.repushAfterWipe(ctx, serial)
		} else {
			e.strayReply(serial, tag)
		}

	case wire.CmdCleanLog:
		if _, ok := ack(e.disp.CleanLog, serial, 0); !ok {
			e.strayReply(serial, tag)
		}
	case wire.CmdCleanAdmin:
		if _, ok := ack(e.disp.CleanAdmin, serial, 0); !ok {
			e.strayReply(serial, tag)
		}
	case wire.CmdCleanLock:
		if _, ok := ack(e.disp.CleanLock, serial, 0); !ok {
			e.strayReply(serial, tag)
		}
	case wire.CmdInitSys:
		if _, ok := ack(e.disp.InitSys, serial, 0); !ok {
			e.strayReply(serial, tag)
		}
	case wire.CmdReboot:
		if _, ok := ack(e.disp.Reboot, serial, 0); !ok {
			e.strayReply(serial, tag)
		}

	case wire.CmdGetUserList:
		if _, ok := ack(e.disp.GetUserList, serial, 0); ok {
			// The terminal now streams one senduser frame per record;
			// the tracker counts them down.
			e.trackers.Start(serial, body.Count)
			e.log.Info("bulk user upload started", "serial", serial, "expected", body.Count)
		} else {
			e.strayReply(serial, tag)
		}

	case wire.CmdGetAllLog:
		if _, ok := ack(e.disp.GetAllLog, serial, 0); !ok {
			e.strayReply(serial, tag)
		}
	case wire.CmdGetNewLog:
		if _, ok := ack(e.disp.GetNewLog, serial, 0); !ok {
			e.strayReply(serial, tag)
		}

	default:
		e.strayReply(serial, tag)
	}
}

// ack confirms the matching pending entry: by enroll id when the reply
// echoes one, otherwise the oldest head for the serial.
func ack(q *dispatch.Queue, serial string, enrollID int) (dispatch.Pending, bool) {
	if enrollID > 0 && q.HasPending(serial, enrollID) {
		return q.Ack(serial, enrollID)
	}
	return q.AckAny(serial)
}

// ackUserPush confirms a setuserinfo/setusername style reply. Direct
// pushes (driven by a grant's sync flag) take precedence over replica
// pushes; only a direct confirmation touches the grant flag, and only once
// the enroll id's queue has drained.
func (e *Engine) ackUserPush(ctx context.Context, serial string, enrollID int,
	direct, replica *dispatch.Queue, clear func(context.Context, string, int)) {

	if p, ok := ack(direct, serial, enrollID); ok {
		if !direct.HasPending(serial, p.EnrollID) {
			clear(ctx, serial, p.EnrollID)
		}
		e.noteBatchAck(serial)
		return
	}
	if _, ok := ack(replica, serial, enrollID); ok {
		e.noteBatchAck(serial)
		return
	}
	e.log.Debug("stray user push reply", "serial", serial)
}

// noteBatchAck counts a per-user confirmation against an in-flight bulk
// push, if one is running.
func (e *Engine) noteBatchAck(serial string) {
	if e.trackers.Active(serial) && e.trackers.DecrementAndDone(serial) {
		e.log.Info("bulk push complete", "serial", serial)
	}
}

func (e *Engine) strayReply(serial string, tag wire.Tag) {
	e.log.Debug("stray reply", "serial", serial, "cmd", tag.Command)
}

// grantFor loads the grant row a per-user confirmation refers to.
func (e *Engine) grantFor(ctx context.Context, serial string, enrollID int) (*store.AccessGrant, bool) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device for ack", "serial", serial, "error", err)
		return nil, false
	}
	grant, err := e.st.Grants().ByDeviceAndEnroll(ctx, dev.ID, enrollID)
	if err != nil {
		if err != store.ErrNotFound {
			e.log.Error("load grant for ack", "serial", serial, "enrollid", enrollID, "error", err)
		}
		return nil, false
	}
	return grant, true
}

func (e *Engine) clearCredentialFlag(ctx context.Context, serial string, enrollID int) {
	grant, ok := e.grantFor(ctx, serial, enrollID)
	if !ok || !grant.NeedsCredentialPush {
		return
	}
	grant.NeedsCredentialPush = false
	if err := e.st.Grants().Update(ctx, grant); err != nil {
		e.log.Error("clear credential flag", "serial", serial, "enrollid", enrollID, "error", err)
	}
}

func (e *Engine) clearNameFlag(ctx context.Context, serial string, enrollID int) {
	grant, ok := e.grantFor(ctx, serial, enrollID)
	if !ok || !grant.NeedsNamePush {
		return
	}
	grant.NeedsNamePush = false
	if err := e.st.Grants().Update(ctx, grant); err != nil {
		e.log.Error("clear name flag", "serial", serial, "enrollid", enrollID, "error", err)
	}
}

func (e *Engine) clearEnableFlag(ctx context.Context, serial string, enrollID int) {
	grant, ok := e.grantFor(ctx, serial, enrollID)
	if !ok || !grant.NeedsEnableSync {
		return
	}
	grant.NeedsEnableSync = false
	if err := e.st.Grants().Update(ctx, grant); err != nil {
		e.log.Error("clear enable flag", "serial", serial, "enrollid", enrollID, "error", err)
	}
}

// removeGrant deletes the grant row once the terminal confirmed the
// on-device deletion.
func (e *Engine) removeGrant(ctx context.Context, serial string, enrollID int) {
	grant, ok := e.grantFor(ctx, serial, enrollID)
	if !ok {
		return
	}
	if err := e.st.Grants().Delete(ctx, grant.ID); err != nil {
		e.log.Error("delete grant", "serial", serial, "enrollid", enrollID, "error", err)
		return
	}
	e.log.Info("grant removed", "serial", serial, "enrollid", enrollID)
}

func (e *Engine) confirmSettings(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device for settings ack", "serial", serial, "error", err)
		return
	}
	if err := e.st.Devices().ClearSettingsPending(ctx, dev.ID); err != nil {
		e.log.Error("clear settings pending", "serial", serial, "error", err)
	}
}

// repushAfterWipe flags every grant on the device for a fresh credential
// push after the terminal's user memory was cleaned.
func (e *Engine) repushAfterWipe(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device after wipe", "serial", serial, "error", err)
		return
	}
	if err := e.st.Grants().MarkAllCredentialsPending(ctx, dev.ID); err != nil {
		e.log.Error("flag grants after wipe", "serial", serial, "error", err)
		return
	}
	e.log.Info("user memory wiped, credentials flagged for repush", "serial", serial)
}

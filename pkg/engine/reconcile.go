package engine

import (
	"context"

	"github.com/termlink-protocol/termlink-go/pkg/dispatch"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// pumpQueue evaluates a FIFO dispatcher for one serial: expired and
// exhausted entries are dropped with a logged reason, ready ones go out
// and have their attempt recorded. A failed transport write leaves the
// entry pending for the next pass.
func (e *Engine) pumpQueue(serial string, q *dispatch.Queue, cmd wire.Command) {
	ready, dropped := q.Pump(serial, e.disp.Gate)
	for _, d := range dropped {
		e.log.Warn("pending command dropped",
			"serial", serial, "cmd", cmd, "enrollid", d.Pending.EnrollID,
			"attempts", d.Pending.Attempts, "reason", d.Reason.String())
	}
	for _, p := range ready {
		if err := e.send(serial, cmd, p.Payload); err != nil {
			continue
		}
		q.MarkSent(serial, p.EnrollID)
	}
}

// tickCredentials registers and delivers the credential pushes flagged on
// access grants. The flag is only cleared by the terminal's ack (or by the
// unpushable-grant path below), so work survives restarts and reconnects.
func (e *Engine) tickCredentials(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("credentials", func() { e.reconcileCredentials(ctx, serial) })
	}
}

func (e *Engine) reconcileCredentials(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device", "serial", serial, "error", err)
		return
	}
	grants, err := e.st.Grants().PendingCredentials(ctx, dev.ID)
	if err != nil {
		e.log.Error("load pending credential grants", "serial", serial, "error", err)
		return
	}

	for _, g := range grants {
		if e.disp.SetUserInfo.HasPending(serial, g.EnrollID) {
			continue
		}
		e.guard("credential grant", func() {
			payloads, ok := e.credentialPayloads(ctx, serial, g)
			if !ok {
				e.clearUnpushable(ctx, g, "credential", func(g *store.AccessGrant) {
					g.NeedsCredentialPush = false
				})
				return
			}
			for _, p := range payloads {
				e.disp.SetUserInfo.Register(serial, g.EnrollID, p)
			}
		})
	}

	e.pumpQueue(serial, e.disp.SetUserInfo, wire.CmdSetUserInfo)
}

// credentialPayloads builds the setuserinfo frames for one grant. A grant
// whose user is gone, still a placeholder, or has no stored records cannot
// be pushed; the caller clears its flag so the scheduler does not spin.
func (e *Engine) credentialPayloads(ctx context.Context, serial string, g *store.AccessGrant) ([]wire.SetUserInfo, bool) {
	user, err := e.st.Users().ByID(ctx, g.UserID)
	if err != nil || user.Placeholder {
		return nil, false
	}
	creds, err := e.st.Credentials().ForUser(ctx, user.ID)
	if err != nil {
		e.log.Error("load credentials", "serial", serial, "enrollid", g.EnrollID, "error", err)
		return nil, false
	}

	var payloads []wire.SetUserInfo
	for _, c := range creds {
		// Stored passwords are bcrypt hashes; a terminal can only verify
		// the original digits, so password slots are never pushed from
		// the store. Replication forwards them verbatim at upload time.
		if c.BackupNum == wire.BackupPassword {
			continue
		}
		payloads = append(payloads, wire.SetUserInfo{
			EnrollID:  g.EnrollID,
			Name:      user.Name,
			BackupNum: c.BackupNum,
			Admin:     c.Admin,
			Record:    c.Record,
		})
	}
	if len(payloads) == 0 {
		return nil, false
	}
	return payloads, true
}

// clearUnpushable clears a sync flag that can never be satisfied, with a
// warning, so the grant stops occupying the scheduler.
func (e *Engine) clearUnpushable(ctx context.Context, g *store.AccessGrant, concern string, clear func(*store.AccessGrant)) {
	e.log.Warn("grant not pushable, clearing sync flag",
		"concern", concern, "device", g.DeviceID, "enrollid", g.EnrollID)
	clear(g)
	if err := e.st.Grants().Update(ctx, g); err != nil {
		e.log.Error("clear sync flag", "device", g.DeviceID, "enrollid", g.EnrollID, "error", err)
	}
}

// tickNames delivers display-name pushes for grants flagged for one.
func (e *Engine) tickNames(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("names", func() { e.reconcileNames(ctx, serial) })
	}
}

func (e *Engine) reconcileNames(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device", "serial", serial, "error", err)
		return
	}
	grants, err := e.st.Grants().PendingNames(ctx, dev.ID)
	if err != nil {
		e.log.Error("load pending name grants", "serial", serial, "error", err)
		return
	}

	for _, g := range grants {
		if e.disp.SetUserName.HasPending(serial, g.EnrollID) {
			continue
		}
		e.guard("name grant", func() {
			user, err := e.st.Users().ByID(ctx, g.UserID)
			if err != nil || user.Placeholder {
				e.clearUnpushable(ctx, g, "name", func(g *store.AccessGrant) {
					g.NeedsNamePush = false
				})
				return
			}
			e.disp.SetUserName.Register(serial, g.EnrollID, wire.SetUserName{
				EnrollID: g.EnrollID,
				Name:     user.Name,
			})
		})
	}

	e.pumpQueue(serial, e.disp.SetUserName, wire.CmdSetUserName)
}

// tickDeletes delivers on-terminal deletions for grants flagged for
// removal. The grant row itself is only deleted on the terminal's ack.
func (e *Engine) tickDeletes(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("deletes", func() { e.reconcileDeletes(ctx, serial) })
	}
}

func (e *Engine) reconcileDeletes(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device", "serial", serial, "error", err)
		return
	}
	grants, err := e.st.Grants().PendingDeletes(ctx, dev.ID)
	if err != nil {
		e.log.Error("load pending deletes", "serial", serial, "error", err)
		return
	}

	for _, g := range grants {
		if e.disp.DeleteUser.HasPending(serial, g.EnrollID) {
			continue
		}
		e.disp.DeleteUser.Register(serial, g.EnrollID, wire.DeleteUser{
			EnrollID:  g.EnrollID,
			BackupNum: wire.BackupAll,
		})
	}

	e.pumpQueue(serial, e.disp.DeleteUser, wire.CmdDeleteUser)
}

// tickEnables delivers enable/disable state for grants flagged for it.
func (e *Engine) tickEnables(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("enables", func() { e.reconcileEnables(ctx, serial) })
	}
}

func (e *Engine) reconcileEnables(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device", "serial", serial, "error", err)
		return
	}
	grants, err := e.st.Grants().PendingEnables(ctx, dev.ID)
	if err != nil {
		e.log.Error("load pending enables", "serial", serial, "error", err)
		return
	}

	for _, g := range grants {
		if e.disp.EnableUser.HasPending(serial, g.EnrollID) {
			continue
		}
		flag := 0
		if g.Enabled {
			flag = 1
		}
		e.disp.EnableUser.Register(serial, g.EnrollID, wire.EnableUser{
			EnrollID: g.EnrollID,
			Enable:   flag,
		})
	}

	e.pumpQueue(serial, e.disp.EnableUser, wire.CmdEnableUser)
}

// tickSettings pushes unconfirmed device settings and pumps the lock
// configuration dispatcher.
func (e *Engine) tickSettings(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("settings", func() {
			dev, err := e.st.Devices().BySerial(ctx, serial)
			if err != nil {
				e.log.Error("load device", "serial", serial, "error", err)
				return
			}
			if dev.SettingsPending && !e.disp.SetDevInfo.HasPending(serial) {
				e.disp.SetDevInfo.Put(serial, wire.SetDevInfo{
					DeviceName:  dev.Settings.DeviceName,
					Language:    dev.Settings.Language,
					Volume:      dev.Settings.Volume,
					ScreenSaver: dev.Settings.ScreenSaver,
					VerifyMode:  dev.Settings.VerifyMode,
					Sleep:       dev.Settings.Sleep,
				})
			}
			e.pumpLatest(serial, e.disp.SetDevInfo, wire.CmdSetDevInfo)
			e.pumpLatest(serial, e.disp.SetDevLock, wire.CmdSetDevLock)
		})
	}
}

// pumpLatest sends a latest-wins dispatcher's pending entry when the
// backoff gate allows it.
func (e *Engine) pumpLatest(serial string, d *dispatch.Latest, cmd wire.Command) {
	p, ok := d.Ready(serial, e.disp.Gate)
	if !ok {
		return
	}
	if err := e.send(serial, cmd, p.Payload); err != nil {
		return
	}
	d.MarkSent(serial)
}

// tickTimeSync pushes the server clock to every connected terminal. The
// payload timestamp is taken at send time so retries never deliver a
// stale clock.
func (e *Engine) tickTimeSync(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("timesync", func() {
			if !e.disp.SetTime.HasPending(serial) {
				e.disp.SetTime.Put(serial, nil)
			}
			if _, ok := e.disp.SetTime.Ready(serial, e.disp.Gate); !ok {
				return
			}
			payload := wire.SetTime{CloudTime: wire.FormatTime(e.now())}
			if err := e.send(serial, wire.CmdSetTime, payload); err != nil {
				return
			}
			e.disp.SetTime.MarkSent(serial)
		})
	}
}

// tickDoors pumps the door queue on a short period so releases feel
// immediate at the door.
func (e *Engine) tickDoors(ctx context.Context) {
	for _, serial := range e.sessions.Serials() {
		e.guard("doors", func() {
			e.pumpQueue(serial, e.disp.OpenDoor, wire.CmdOpenDoor)
		})
	}
}

// tickQueues pumps the remaining FIFO dispatchers: replication, schedule
// locks and maintenance commands.
func (e *Engine) tickQueues(ctx context.Context) {
	kinds := []struct {
		q   *dispatch.Queue
		cmd wire.Command
	}{
		{e.disp.SetUserInfoReplica, wire.CmdSetUserInfo},
		{e.disp.SetUserNameReplica, wire.CmdSetUserName},
		{e.disp.SetUserLock, wire.CmdSetUserLock},
		{e.disp.DeleteLock, wire.CmdDeleteLock},
		{e.disp.CleanUser, wire.CmdCleanUser},
		{e.disp.CleanLog, wire.CmdCleanLog},
		{e.disp.CleanAdmin, wire.CmdCleanAdmin},
		{e.disp.CleanLock, wire.CmdCleanLock},
		{e.disp.InitSys, wire.CmdInitSys},
		{e.disp.Reboot, wire.CmdReboot},
		{e.disp.GetUserList, wire.CmdGetUserList},
		{e.disp.GetAllLog, wire.CmdGetAllLog},
		{e.disp.GetNewLog, wire.CmdGetNewLog},
	}

	for _, serial := range e.sessions.Serials() {
		for _, k := range kinds {
			e.guard("queues", func() {
				e.pumpQueue(serial, k.q, k.cmd)
			})
		}
	}
}

package engine

import (
	"context"

	"github.com/termlink-protocol/termlink-go/pkg/session"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// tickBulk drives the periodic full refresh: within the slack after each
// wall-clock window mark, every connected terminal that has not been
// served this window gets its complete grant set pushed, staggered so the
// burst does not overrun the device.
func (e *Engine) tickBulk(ctx context.Context) {
	now := e.now()
	windowStart := now.Truncate(e.cfg.BulkEvery)
	if now.Sub(windowStart) > e.cfg.BulkSlack {
		return
	}

	for _, serial := range e.sessions.Serials() {
		e.bulkMu.Lock()
		served := e.lastBulk[serial].Equal(windowStart)
		if !served {
			e.lastBulk[serial] = windowStart
		}
		e.bulkMu.Unlock()
		if served {
			continue
		}
		e.guard("bulk", func() { e.bulkPush(ctx, serial) })
	}
}

// bulkPush registers the device's full credential set on the replica
// dispatcher and schedules the sends through the stagger queue. A tracker
// counts the confirmations so completion (or a stall) is visible.
func (e *Engine) bulkPush(ctx context.Context, serial string) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("load device for bulk push", "serial", serial, "error", err)
		return
	}
	grants, err := e.st.Grants().ForDevice(ctx, dev.ID)
	if err != nil {
		e.log.Error("load grants for bulk push", "serial", serial, "error", err)
		return
	}

	type item struct {
		enrollID int
		payload  wire.SetUserInfo
	}
	var batch []item

	for _, g := range grants {
		if g.NeedsDelete || e.disp.SetUserInfoReplica.HasPending(serial, g.EnrollID) {
			continue
		}
		payloads, ok := e.credentialPayloads(ctx, serial, g)
		if !ok {
			continue
		}
		for _, p := range payloads {
			e.disp.SetUserInfoReplica.Register(serial, g.EnrollID, p)
			batch = append(batch, item{enrollID: g.EnrollID, payload: p})
		}
	}
	if len(batch) == 0 {
		return
	}

	e.trackers.Start(serial, len(batch))
	e.log.Info("bulk push started", "serial", serial, "records", len(batch))

	for i, it := range batch {
		enrollID := it.enrollID
		payload := it.payload
		e.stagger.Schedule(i, func() {
			if err := e.send(serial, wire.CmdSetUserInfo, payload); err != nil {
				return
			}
			e.disp.SetUserInfoReplica.MarkSent(serial, enrollID)
		})
	}
}

// PushSchedule queues the grant's access-schedule window for delivery.
func (e *Engine) PushSchedule(ctx context.Context, serial string, enrollID int) error {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		return err
	}
	grant, err := e.st.Grants().ByDeviceAndEnroll(ctx, dev.ID, enrollID)
	if err != nil {
		return err
	}
	e.disp.SetUserLock.Register(serial, enrollID, wire.SetUserLock{
		EnrollID:  enrollID,
		WeekZone:  grant.WeekZone,
		StartTime: grant.StartTime,
		EndTime:   grant.EndTime,
	})
	return nil
}

// RemoveSchedule queues removal of the enroll id's access-schedule window.
func (e *Engine) RemoveSchedule(serial string, enrollID int) error {
	if !e.sessions.IsOpen(serial) {
		return session.ErrNotConnected
	}
	e.disp.DeleteLock.Register(serial, enrollID, wire.DeleteUser{
		EnrollID:  enrollID,
		BackupNum: wire.BackupAll,
	})
	return nil
}

// PushLockConfig queues lock behaviour settings for the terminal;
// latest-wins, a newer configuration replaces an unconfirmed older one.
func (e *Engine) PushLockConfig(serial string, cfg wire.SetDevLock) {
	e.disp.SetDevLock.Put(serial, cfg)
}

// PushSettings marks the device's stored settings for delivery on the
// next settings tick.
func (e *Engine) PushSettings(ctx context.Context, serial string, settings store.DeviceSettings) error {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		return err
	}
	dev.Settings = settings
	dev.SettingsPending = true
	_, err = e.st.Devices().Upsert(ctx, dev)
	return err
}

package engine

import (
	"context"
	"fmt"

	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// handleSendLog processes a batch of access events uploaded by a terminal.
// Every record is applied independently: a bad record is logged and
// skipped, never failing the batch, and the reply reports how many records
// the server accepted so the terminal can advance its upload cursor.
func (e *Engine) handleSendLog(conn TermConn, serial string, data []byte) {
	var frame wire.SendLogFrame
	if err := wire.Decode(data, &frame); err != nil {
		e.log.Warn("malformed sendlog frame", "serial", serial, "error", err)
		e.reply(conn, wire.CmdSendLog, false, 0, nil)
		return
	}

	ctx := context.Background()
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("sendlog for unknown device", "serial", serial, "error", err)
		e.reply(conn, wire.CmdSendLog, false, 0, nil)
		return
	}

	accepted := 0
	for i := range frame.Records {
		rec := frame.Records[i]
		e.guard("sendlog record", func() {
			if err := e.applyLogRecord(ctx, dev, rec); err != nil {
				e.log.Warn("access record skipped",
					"serial", serial, "enrollid", rec.EnrollID, "error", err)
				return
			}
			accepted++
		})
	}

	e.reply(conn, wire.CmdSendLog, true, 0, map[string]any{
		"count":     accepted,
		"logindex":  frame.Index,
		"cloudtime": wire.FormatTime(e.now()),
	})
}

// handleEvent processes a single unsolicited access event, which terminals
// push in real time between batch uploads. It carries one record with the
// same shape as a sendlog entry.
func (e *Engine) handleEvent(conn TermConn, serial string, data []byte) {
	var rec wire.LogRecord
	if err := wire.Decode(data, &rec); err != nil {
		e.log.Warn("malformed event frame", "serial", serial, "error", err)
		e.reply(conn, wire.CmdEvent, false, 0, nil)
		return
	}

	ctx := context.Background()
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("event for unknown device", "serial", serial, "error", err)
		e.reply(conn, wire.CmdEvent, false, 0, nil)
		return
	}

	if err := e.applyLogRecord(ctx, dev, rec); err != nil {
		e.log.Warn("event record skipped", "serial", serial, "enrollid", rec.EnrollID, "error", err)
	}
	e.reply(conn, wire.CmdEvent, true, 0, nil)
}

// applyLogRecord pairs one access event into the entry/exit model: the
// first event for a (user, device) pair opens an entry, the next one
// closes it as the exit. Replays of an already stored event are dropped by
// the (user, device, time) identity check.
func (e *Engine) applyLogRecord(ctx context.Context, dev *store.Device, rec wire.LogRecord) error {
	at, err := wire.ParseTime(rec.Time)
	if err != nil {
		return fmt.Errorf("record time %q: %w", rec.Time, err)
	}

	user, err := e.st.Users().ByEnrollID(ctx, dev.CompanyID, rec.EnrollID)
	if err == store.ErrNotFound {
		user, err = e.st.Users().CreatePlaceholder(ctx, dev.CompanyID, rec.EnrollID,
			fmt.Sprintf("enroll-%s", wire.FormatEnrollID(rec.EnrollID)))
	}
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	seen, err := e.st.Logs().Exists(ctx, user.ID, dev.ID, at)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		return nil
	}

	open, err := e.st.Logs().OpenEntry(ctx, user.ID, dev.ID)
	switch {
	case err == store.ErrNotFound:
		_, err := e.st.Logs().Create(ctx, &store.AccessLog{
			UserID:    user.ID,
			DeviceID:  dev.ID,
			CompanyID: dev.CompanyID,
			EnrollID:  rec.EnrollID,
			EntryAt:   at,
			Action:    store.ActionEntry,
			Success:   true,
			EventType: rec.Event,
		})
		return err
	case err != nil:
		return fmt.Errorf("load open entry: %w", err)
	}

	// An exit timestamped before its entry is a terminal clock artifact;
	// record it with zero duration rather than a negative one.
	exitAt := at
	open.ExitAt = &exitAt
	if d := exitAt.Sub(open.EntryAt); d > 0 {
		open.DurationSec = int64(d.Seconds())
	}
	open.Action = store.ActionExit
	return e.st.Logs().Update(ctx, open)
}

// sweepOpenLogs force-closes entries that never received an exit event.
// Closing is idempotent: a closed row is no longer open, so a sweep that
// runs twice over the same rows does nothing the second time.
func (e *Engine) sweepOpenLogs(ctx context.Context) {
	cutoff := e.now().Add(-e.cfg.LogCloseAfter)
	stale, err := e.st.Logs().OpenOlderThan(ctx, cutoff)
	if err != nil {
		e.log.Error("load stale open entries", "error", err)
		return
	}

	for _, entry := range stale {
		e.guard("log sweep", func() {
			closedAt := e.now()
			entry.ExitAt = &closedAt
			entry.DurationSec = int64(closedAt.Sub(entry.EntryAt).Seconds())
			entry.Action = store.ActionExit
			entry.CloseReason = store.SystemCloseReason
			if err := e.st.Logs().Update(ctx, entry); err != nil {
				e.log.Error("auto-close entry", "log", entry.ID, "error", err)
				return
			}
			e.log.Info("auto-closed open entry",
				"log", entry.ID, "enrollid", entry.EnrollID, "entry_at", entry.EntryAt)
		})
	}
}

package engine

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// handleSendUser processes a credential enrolled directly on a terminal.
// The record is stored (passwords as bcrypt hashes), the uploading device
// keeps its grant confirmed, and sibling devices of the same company get
// the verbatim record queued for replication.
func (e *Engine) handleSendUser(conn TermConn, serial string, data []byte) {
	var frame wire.SendUserFrame
	if err := wire.Decode(data, &frame); err != nil {
		e.log.Warn("malformed senduser frame", "serial", serial, "error", err)
		e.reply(conn, wire.CmdSendUser, false, 0, nil)
		return
	}

	ctx := context.Background()
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		e.log.Error("senduser for unknown device", "serial", serial, "error", err)
		e.reply(conn, wire.CmdSendUser, false, 0, nil)
		return
	}

	if err := e.storeUploadedCredential(ctx, dev, &frame); err != nil {
		e.log.Error("store uploaded credential",
			"serial", serial, "enrollid", frame.EnrollID, "error", err)
		e.reply(conn, wire.CmdSendUser, false, 0, nil)
		return
	}

	e.replicateCredential(ctx, dev, &frame)
	e.reply(conn, wire.CmdSendUser, true, 0, nil)

	// A tracker is only present while a requested bulk upload is running.
	if e.trackers.Active(serial) && e.trackers.DecrementAndDone(serial) {
		e.log.Info("bulk user upload complete", "serial", serial)
	}
}

// storeUploadedCredential resolves or creates the user, persists the
// record, and ensures the uploading device holds a confirmed grant.
func (e *Engine) storeUploadedCredential(ctx context.Context, dev *store.Device, frame *wire.SendUserFrame) error {
	user, err := e.st.Users().ByEnrollID(ctx, dev.CompanyID, frame.EnrollID)
	if err == store.ErrNotFound {
		name := frame.Name
		if name == "" {
			name = fmt.Sprintf("enroll-%s", wire.FormatEnrollID(frame.EnrollID))
		}
		user, err = e.st.Users().CreatePlaceholder(ctx, dev.CompanyID, frame.EnrollID, name)
	}
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	record := frame.RecordString()
	if frame.BackupNum == wire.BackupPassword {
		hash, err := bcrypt.GenerateFromPassword([]byte(record), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		record = string(hash)
	}

	if _, err := e.st.Credentials().Upsert(ctx, &store.Credential{
		UserID:    user.ID,
		EnrollID:  frame.EnrollID,
		BackupNum: frame.BackupNum,
		Admin:     frame.Admin,
		Record:    record,
	}); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	// The uploading terminal already holds the record; its grant starts
	// confirmed so the schedulers do not push the credential back at it.
	if _, err := e.st.Grants().ByDeviceAndEnroll(ctx, dev.ID, frame.EnrollID); err == store.ErrNotFound {
		if _, err := e.st.Grants().Upsert(ctx, &store.AccessGrant{
			UserID:   user.ID,
			DeviceID: dev.ID,
			EnrollID: frame.EnrollID,
			Enabled:  true,
		}); err != nil {
			return fmt.Errorf("store grant: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load grant: %w", err)
	}
	return nil
}

// replicateCredential queues the uploaded record, verbatim, for every
// other connected device of the same company. Hashing would break
// on-terminal verification, so replication forwards what the terminal
// sent; only the stored copy is hashed.
func (e *Engine) replicateCredential(ctx context.Context, origin *store.Device, frame *wire.SendUserFrame) {
	devices, err := e.st.Devices().All(ctx)
	if err != nil {
		e.log.Error("load replication targets", "serial", origin.Serial, "error", err)
		return
	}

	payload := wire.SetUserInfo{
		EnrollID:  frame.EnrollID,
		Name:      frame.Name,
		BackupNum: frame.BackupNum,
		Admin:     frame.Admin,
		Record:    frame.RecordString(),
	}

	for _, sibling := range devices {
		if sibling.ID == origin.ID || sibling.CompanyID != origin.CompanyID {
			continue
		}
		e.disp.SetUserInfoReplica.Register(sibling.Serial, frame.EnrollID, payload)
		if frame.Name != "" {
			e.disp.SetUserNameReplica.Register(sibling.Serial, frame.EnrollID, wire.SetUserName{
				EnrollID: frame.EnrollID,
				Name:     frame.Name,
			})
		}
		e.log.Debug("credential replication queued",
			"from", origin.Serial, "to", sibling.Serial, "enrollid", frame.EnrollID)
	}
}

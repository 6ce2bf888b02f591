package engine

import (
	"context"

	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/version"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// Registration failure reason codes sent back to the terminal.
const regReasonInvalid = 1

// handleReg processes the registration push a terminal sends when its
// connection comes up. On success the connection becomes the serial's
// current session, superseding any previous one, and the terminal gets
// the server clock back so it can correct drift immediately.
func (e *Engine) handleReg(conn TermConn, data []byte) {
	var frame wire.RegFrame
	if err := wire.Decode(data, &frame); err != nil {
		e.log.Warn("malformed reg frame", "conn", conn.ID(), "error", err)
		e.reply(conn, wire.CmdReg, false, regReasonInvalid, nil)
		return
	}
	if frame.SN == "" {
		e.log.Warn("reg without serial", "conn", conn.ID())
		e.reply(conn, wire.CmdReg, false, regReasonInvalid, nil)
		return
	}
	if err := frame.DevInfo.Validate(); err != nil {
		e.log.Warn("reg with invalid devinfo", "serial", frame.SN, "error", err)
		e.reply(conn, wire.CmdReg, false, regReasonInvalid, nil)
		return
	}

	ctx := context.Background()
	dev, err := e.st.Devices().BySerial(ctx, frame.SN)
	switch {
	case err == nil:
	case err == store.ErrNotFound:
		dev = &store.Device{
			Serial:    frame.SN,
			CompanyID: e.cfg.CompanyID,
			Name:      frame.SN,
		}
	default:
		e.log.Error("load device", "serial", frame.SN, "error", err)
		e.reply(conn, wire.CmdReg, false, regReasonInvalid, nil)
		return
	}

	applyDevInfo(dev, frame.DevInfo)
	dev.Status = store.DeviceConnected
	dev.LastSeenAt = e.now()

	if _, err := e.st.Devices().Upsert(ctx, dev); err != nil {
		e.log.Error("store device", "serial", frame.SN, "error", err)
		e.reply(conn, wire.CmdReg, false, regReasonInvalid, nil)
		return
	}

	e.checkFirmware(frame.SN, frame.DevInfo.Firmware)

	conn.SetSerial(frame.SN)
	e.sessions.Register(frame.SN, conn)

	e.log.Info("terminal registered",
		"serial", frame.SN,
		"model", frame.DevInfo.ModelName,
		"firmware", frame.DevInfo.Firmware,
		"conn", conn.ID())

	e.reply(conn, wire.CmdReg, true, 0, map[string]any{
		"cloudtime": wire.FormatTime(e.now()),
	})
}

// checkFirmware warns about terminals running below the configured
// minimum firmware. Malformed version strings are reported once here
// rather than failing registration.
func (e *Engine) checkFirmware(serial, firmware string) {
	fw, err := version.Parse(firmware)
	if err != nil {
		e.log.Warn("unparseable firmware version", "serial", serial, "firmware", firmware)
		return
	}
	if e.cfg.MinFirmware == "" {
		return
	}
	min, err := version.Parse(e.cfg.MinFirmware)
	if err != nil {
		e.log.Warn("invalid minimum firmware configured", "min", e.cfg.MinFirmware)
		return
	}
	if !fw.AtLeast(min) {
		e.log.Warn("terminal firmware below minimum",
			"serial", serial, "firmware", fw.String(), "minimum", min.String())
	}
}

// applyDevInfo copies the registration block onto the stored device row.
func applyDevInfo(dev *store.Device, info *wire.DevInfo) {
	dev.ModelName = info.ModelName
	dev.Firmware = info.Firmware
	dev.FPAlgo = info.FPAlgo

	dev.UserCapacity = info.UserSize
	dev.FPCapacity = info.FPSize
	dev.CardCapacity = info.CardSize
	dev.PwdCapacity = info.PwdSize
	dev.LogCapacity = info.LogSize
	dev.UsersUsed = info.UsedUser
	dev.FPUsed = info.UsedFP
	dev.CardsUsed = info.UsedCard
	dev.PwdUsed = info.UsedPwd
	dev.LogsUsed = info.UsedLog
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/termlink-protocol/termlink-go/pkg/dispatch"
	"github.com/termlink-protocol/termlink-go/pkg/protolog"
	"github.com/termlink-protocol/termlink-go/pkg/session"
	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/wire"
)

// ErrUnknownAction is returned for a maintenance action the engine does
// not recognize.
var ErrUnknownAction = errors.New("unknown maintenance action")

// Config carries engine tunables. The zero value is completed by New with
// the defaults below.
type Config struct {
	// CompanyID is the company assigned to devices and placeholder
	// identities that register without a known owner.
	CompanyID int64

	// LogCloseAfter is the age after which an access log entry with no
	// exit event is closed by the sweep.
	LogCloseAfter time.Duration

	// TrackerTimeout is the age after which an in-flight batch tracker
	// is abandoned.
	TrackerTimeout time.Duration

	// StaggerStep is the delay between consecutive sends of one bulk
	// push to a single terminal.
	StaggerStep time.Duration

	// BulkEvery and BulkSlack define the bulk push window: pushes run
	// once per BulkEvery period, within BulkSlack of the period mark.
	BulkEvery time.Duration
	BulkSlack time.Duration

	// MinFirmware, when set, logs a warning for terminals registering
	// with older firmware. Registration still succeeds.
	MinFirmware string
}

const (
	defaultCompanyID      = 1
	defaultLogCloseAfter  = 12 * time.Hour
	defaultTrackerTimeout = 2 * time.Minute
	defaultStaggerStep    = 150 * time.Millisecond
	defaultBulkEvery      = 10 * time.Minute
	defaultBulkSlack      = 3 * time.Minute
)

// Engine ties the terminal sessions, the per-command dispatchers and the
// store together. Inbound frames flow in through OnConnect/OnMessage/
// OnDisconnect, outbound commands flow out through the reconciliation
// schedulers started by Start.
type Engine struct {
	cfg  Config
	log  *slog.Logger
	plog protolog.Logger

	sessions *session.Registry
	disp     *dispatch.Set
	st       store.Store
	trackers *Trackers
	stagger  *Stagger

	bulkMu   sync.Mutex
	lastBulk map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates an engine over the given store. A nil logger discards.
func New(st store.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.CompanyID == 0 {
		cfg.CompanyID = defaultCompanyID
	}
	if cfg.LogCloseAfter == 0 {
		cfg.LogCloseAfter = defaultLogCloseAfter
	}
	if cfg.TrackerTimeout == 0 {
		cfg.TrackerTimeout = defaultTrackerTimeout
	}
	if cfg.StaggerStep == 0 {
		cfg.StaggerStep = defaultStaggerStep
	}
	if cfg.BulkEvery == 0 {
		cfg.BulkEvery = defaultBulkEvery
	}
	if cfg.BulkSlack == 0 {
		cfg.BulkSlack = defaultBulkSlack
	}

	return &Engine{
		cfg:      cfg,
		log:      logger,
		plog:     &protolog.NoopLogger{},
		sessions: session.NewRegistry(),
		disp:     dispatch.NewSet(),
		st:       st,
		trackers: NewTrackers(),
		stagger:  NewStagger(cfg.StaggerStep),
		lastBulk: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetProtocolLogger installs a frame-level protocol logger. A nil logger
// resets to the no-op logger. Must be called before Start.
func (e *Engine) SetProtocolLogger(l protolog.Logger) {
	if l == nil {
		l = &protolog.NoopLogger{}
	}
	e.plog = l
}

// Sessions exposes the session registry, mainly for liveness queries.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// Dispatchers exposes the dispatcher set for inspection.
func (e *Engine) Dispatchers() *dispatch.Set {
	return e.disp
}

// Store exposes the backing store.
func (e *Engine) Store() store.Store {
	return e.st
}

// OpenDoor queues a door release for the serial. The request expires if
// the terminal does not confirm within the door window.
func (e *Engine) OpenDoor(serial string, door int) error {
	if !e.sessions.IsOpen(serial) {
		return session.ErrNotConnected
	}
	e.disp.OpenDoor.Register(serial, 0, wire.OpenDoor{DoorNum: door})
	return nil
}

// Maintenance queues a device maintenance command. Supported actions are
// cleanuser, cleanlog, cleanadmin, cleanuserlock, initsys, reboot,
// getuserlist, getalllog and getnewlog.
func (e *Engine) Maintenance(serial, action string) error {
	if !e.sessions.IsOpen(serial) {
		return session.ErrNotConnected
	}

	var q *dispatch.Queue
	var payload any = struct{}{}
	switch wire.Command(action) {
	case wire.CmdCleanUser:
		q = e.disp.CleanUser
	case wire.CmdCleanLog:
		q = e.disp.CleanLog
	case wire.CmdCleanAdmin:
		q = e.disp.CleanAdmin
	case wire.CmdCleanLock:
		q = e.disp.CleanLock
	case wire.CmdInitSys:
		q = e.disp.InitSys
	case wire.CmdReboot:
		q = e.disp.Reboot
	case wire.CmdGetUserList:
		q = e.disp.GetUserList
		payload = wire.GetUserList{STN: true}
	case wire.CmdGetAllLog:
		q = e.disp.GetAllLog
	case wire.CmdGetNewLog:
		q = e.disp.GetNewLog
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	q.Register(serial, 0, payload)
	return nil
}

// Devices returns every known device together with its session liveness.
func (e *Engine) Devices(ctx context.Context) ([]DeviceView, error) {
	devices, err := e.st.Devices().All(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]DeviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, DeviceView{
			Device: *dev,
			Online: e.sessions.IsOpen(dev.Serial),
		})
	}
	return views, nil
}

// DeviceView is a device row with the live connection state attached.
type DeviceView struct {
	store.Device
	Online bool
}

// RecentLogs returns the most recent access log entries for the serial.
func (e *Engine) RecentLogs(ctx context.Context, serial string, limit int) ([]*store.AccessLog, error) {
	dev, err := e.st.Devices().BySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	return e.st.Logs().Recent(ctx, dev.ID, limit)
}

// send encodes the command with its payload and writes it to the serial's
// session. Transport failures are logged and returned so callers can
// leave the pending entry for a later retry.
func (e *Engine) send(serial string, cmd wire.Command, payload any) error {
	data, err := wire.Encode(cmd, payload)
	if err != nil {
		e.log.Error("encode command", "cmd", cmd, "serial", serial, "error", err)
		return err
	}
	if err := e.sessions.Send(serial, data); err != nil {
		e.log.Debug("send command", "cmd", cmd, "serial", serial, "error", err)
		return err
	}
	e.plog.Log(protolog.Event{
		Timestamp: e.now(),
		Serial:    serial,
		Direction: protolog.DirectionOut,
		Command:   cmd,
		Size:      len(data),
	})
	return nil
}

// guard runs fn and converts a panic into an error log, so one bad device
// or record cannot take a whole scheduler tick down.
func (e *Engine) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("recovered panic", "in", name, "panic", r)
		}
	}()
	fn()
}

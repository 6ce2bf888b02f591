// Package store defines the entities and persistence interfaces the sync
// engine depends on. The store is the durable record of pending work: sync
// flags live on the access-grant rows themselves, and the engine only ever
// reads and clears those flags — there is no separate outbox.
package store

import "time"

// DeviceStatus is the stored connectivity state of a terminal.
type DeviceStatus string

const (
	DeviceConnected    DeviceStatus = "CONNECTED"
	DeviceDisconnected DeviceStatus = "DISCONNECTED"
)

// Device is one physical terminal.
type Device struct {
	ID        int64
	Serial    string
	CompanyID int64
	Name      string
	Status    DeviceStatus

	ModelName string
	Firmware  string
	FPAlgo    string

	UserCapacity int
	FPCapacity   int
	CardCapacity int
	PwdCapacity  int
	LogCapacity  int
	UsersUsed    int
	FPUsed       int
	CardsUsed    int
	PwdUsed      int
	LogsUsed     int

	// Settings is the desired device configuration; SettingsPending marks
	// that it has not been confirmed on the terminal yet.
	Settings        DeviceSettings
	SettingsPending bool

	LastSeenAt time.Time
}

// DeviceSettings is the desired on-terminal configuration.
type DeviceSettings struct {
	DeviceName  string
	Language    int
	Volume      int
	ScreenSaver int
	VerifyMode  int
	Sleep       int
}

// Company groups users and devices.
type Company struct {
	ID   int64
	Name string
}

// User is an identity known to the store. Placeholder users are created
// when a terminal references an enroll id the store has never seen.
type User struct {
	ID          int64
	CompanyID   int64
	EnrollID    int
	Name        string
	Placeholder bool
	CreatedAt   time.Time
}

// Credential is one stored record for an enroll id: a fingerprint template,
// a card number, or a bcrypt hash of a password, selected by BackupNum.
type Credential struct {
	ID        int64
	UserID    int64
	EnrollID  int
	BackupNum int
	Admin     int
	Record    string
}

// AccessGrant is the user-to-device permission row. The four Needs* flags
// are the desired-vs-confirmed state pairs the reconciliation schedulers
// act on; each is cleared only when the terminal acks the matching command.
type AccessGrant struct {
	ID       int64
	UserID   int64
	DeviceID int64
	EnrollID int
	Enabled  bool

	WeekZone  int
	StartTime string
	EndTime   string

	NeedsCredentialPush bool
	NeedsNamePush       bool
	NeedsDelete         bool
	NeedsEnableSync     bool
}

// LogAction classifies an access-log row.
type LogAction string

const (
	ActionEntry LogAction = "ENTRY"
	ActionExit  LogAction = "EXIT"
)

// SystemCloseReason marks entries force-closed by the sweep rather than by
// a matching exit event from the terminal.
const SystemCloseReason = "auto-closed: no exit event"

// AccessLog is one entry/exit pairing. An entry with a nil ExitAt is open;
// at most one open row exists per (user, device) pair.
type AccessLog struct {
	ID        int64
	UserID    int64
	DeviceID  int64
	CompanyID int64
	EnrollID  int

	EntryAt     time.Time
	ExitAt      *time.Time
	DurationSec int64
	Action      LogAction
	Success     bool
	EventType   int
	CloseReason string
}

// IsOpen reports whether the row still awaits its exit event.
func (l *AccessLog) IsOpen() bool {
	return l.ExitAt == nil
}

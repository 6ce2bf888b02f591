package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DeviceStore persists terminals.
type DeviceStore interface {
	// BySerial returns the device with the given serial number.
	BySerial(ctx context.Context, serial string) (*Device, error)

	// Upsert inserts or updates a device keyed by serial, returning the
	// stored row with its id populated.
	Upsert(ctx context.Context, d *Device) (*Device, error)

	// SetStatus updates the connectivity state and last-seen time.
	SetStatus(ctx context.Context, serial string, status DeviceStatus) error

	// ClearSettingsPending marks the device's settings as confirmed.
	ClearSettingsPending(ctx context.Context, deviceID int64) error

	// All returns every known device.
	All(ctx context.Context) ([]*Device, error)
}

// UserStore persists identities.
type UserStore interface {
	// ByID returns the user with the given id.
	ByID(ctx context.Context, id int64) (*User, error)

	// ByEnrollID returns the user bound to the enroll id.
	ByEnrollID(ctx context.Context, companyID int64, enrollID int) (*User, error)

	// CreatePlaceholder inserts a placeholder identity for an enroll id
	// the store has never seen. Idempotent per (company, enroll id).
	CreatePlaceholder(ctx context.Context, companyID int64, enrollID int, name string) (*User, error)
}

// CredentialStore persists per-enroll-id records.
type CredentialStore interface {
	// Upsert inserts or replaces the record keyed by (user, backup number).
	Upsert(ctx context.Context, c *Credential) (*Credential, error)

	// ForUser returns every record of a user.
	ForUser(ctx context.Context, userID int64) ([]*Credential, error)
}

// GrantStore persists access grants and their sync flags.
type GrantStore interface {
	// ForDevice returns every grant on a device.
	ForDevice(ctx context.Context, deviceID int64) ([]*AccessGrant, error)

	// PendingCredentials returns grants whose credential push is unconfirmed.
	PendingCredentials(ctx context.Context, deviceID int64) ([]*AccessGrant, error)

	// PendingNames returns grants whose name push is unconfirmed.
	PendingNames(ctx context.Context, deviceID int64) ([]*AccessGrant, error)

	// PendingDeletes returns grants awaiting on-terminal deletion.
	PendingDeletes(ctx context.Context, deviceID int64) ([]*AccessGrant, error)

	// PendingEnables returns grants whose enabled state is unconfirmed.
	PendingEnables(ctx context.Context, deviceID int64) ([]*AccessGrant, error)

	// Update persists a modified grant.
	Update(ctx context.Context, g *AccessGrant) error

	// Upsert inserts or updates the grant keyed by (device, enroll id).
	Upsert(ctx context.Context, g *AccessGrant) (*AccessGrant, error)

	// Delete removes a grant row.
	Delete(ctx context.Context, id int64) error

	// ByDeviceAndEnroll returns the grant for an enroll id on a device.
	ByDeviceAndEnroll(ctx context.Context, deviceID int64, enrollID int) (*AccessGrant, error)

	// MarkAllCredentialsPending flags every grant on a device for a fresh
	// credential push. Used after a terminal's user memory is wiped.
	MarkAllCredentialsPending(ctx context.Context, deviceID int64) error
}

// AccessLogStore persists entry/exit pairings.
type AccessLogStore interface {
	// OpenEntry returns the open (no exit) row for a (user, device) pair,
	// or ErrNotFound.
	OpenEntry(ctx context.Context, userID, deviceID int64) (*AccessLog, error)

	// Exists reports whether a row with the exact (user, device, entry
	// time) triple was already recorded, on either side of the pairing.
	Exists(ctx context.Context, userID, deviceID int64, at time.Time) (bool, error)

	// Create inserts a new row, returning it with its id populated.
	Create(ctx context.Context, l *AccessLog) (*AccessLog, error)

	// Update persists a modified row (closing it, typically).
	Update(ctx context.Context, l *AccessLog) error

	// OpenOlderThan returns open rows whose entry time precedes cutoff.
	OpenOlderThan(ctx context.Context, cutoff time.Time) ([]*AccessLog, error)

	// Recent returns the newest rows for a device, most recent first.
	Recent(ctx context.Context, deviceID int64, limit int) ([]*AccessLog, error)
}

// Store bundles the collaborator interfaces the engine is wired with.
type Store interface {
	Devices() DeviceStore
	Users() UserStore
	Credentials() CredentialStore
	Grants() GrantStore
	Logs() AccessLogStore
}

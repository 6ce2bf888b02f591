// Package sqlite is the SQLite-backed Store implementation, using the pure
// Go modernc.org/sqlite driver. Timestamps are stored as Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/termlink-protocol/termlink-go/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
  id               INTEGER PRIMARY KEY AUTOINCREMENT,
  serial           TEXT NOT NULL UNIQUE,
  company_id       INTEGER NOT NULL DEFAULT 0,
  name             TEXT NOT NULL DEFAULT '',
  status           TEXT NOT NULL DEFAULT 'DISCONNECTED',
  model_name       TEXT NOT NULL DEFAULT '',
  firmware         TEXT NOT NULL DEFAULT '',
  fp_algo          TEXT NOT NULL DEFAULT '',
  user_capacity    INTEGER NOT NULL DEFAULT 0,
  fp_capacity      INTEGER NOT NULL DEFAULT 0,
  card_capacity    INTEGER NOT NULL DEFAULT 0,
  pwd_capacity     INTEGER NOT NULL DEFAULT 0,
  log_capacity     INTEGER NOT NULL DEFAULT 0,
  users_used       INTEGER NOT NULL DEFAULT 0,
  fp_used          INTEGER NOT NULL DEFAULT 0,
  cards_used       INTEGER NOT NULL DEFAULT 0,
  pwd_used         INTEGER NOT NULL DEFAULT 0,
  logs_used        INTEGER NOT NULL DEFAULT 0,
  set_device_name  TEXT NOT NULL DEFAULT '',
  set_language     INTEGER NOT NULL DEFAULT 0,
  set_volume       INTEGER NOT NULL DEFAULT 0,
  set_screensaver  INTEGER NOT NULL DEFAULT 0,
  set_verify_mode  INTEGER NOT NULL DEFAULT 0,
  set_sleep        INTEGER NOT NULL DEFAULT 0,
  settings_pending INTEGER NOT NULL DEFAULT 0,
  last_seen_ms     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  company_id  INTEGER NOT NULL DEFAULT 0,
  enroll_id   INTEGER NOT NULL,
  name        TEXT NOT NULL DEFAULT '',
  placeholder INTEGER NOT NULL DEFAULT 0,
  created_ms  INTEGER NOT NULL,
  UNIQUE(company_id, enroll_id)
);

CREATE TABLE IF NOT EXISTS credentials (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id    INTEGER NOT NULL,
  enroll_id  INTEGER NOT NULL,
  backup_num INTEGER NOT NULL,
  admin      INTEGER NOT NULL DEFAULT 0,
  record     TEXT NOT NULL DEFAULT '',
  UNIQUE(user_id, backup_num)
);

CREATE TABLE IF NOT EXISTS access_grants (
  id                    INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id               INTEGER NOT NULL,
  device_id             INTEGER NOT NULL,
  enroll_id             INTEGER NOT NULL,
  enabled               INTEGER NOT NULL DEFAULT 1,
  week_zone             INTEGER NOT NULL DEFAULT 0,
  start_time            TEXT NOT NULL DEFAULT '',
  end_time              TEXT NOT NULL DEFAULT '',
  needs_credential_push INTEGER NOT NULL DEFAULT 0,
  needs_name_push       INTEGER NOT NULL DEFAULT 0,
  needs_delete          INTEGER NOT NULL DEFAULT 0,
  needs_enable_sync     INTEGER NOT NULL DEFAULT 0,
  UNIQUE(device_id, enroll_id)
);

CREATE TABLE IF NOT EXISTS access_logs (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id      INTEGER NOT NULL,
  device_id    INTEGER NOT NULL,
  company_id   INTEGER NOT NULL DEFAULT 0,
  enroll_id    INTEGER NOT NULL DEFAULT 0,
  entry_ms     INTEGER NOT NULL,
  exit_ms      INTEGER,
  duration_sec INTEGER NOT NULL DEFAULT 0,
  action       TEXT NOT NULL,
  success      INTEGER NOT NULL DEFAULT 1,
  event_type   INTEGER NOT NULL DEFAULT 0,
  close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_access_logs_open
  ON access_logs(user_id, device_id) WHERE exit_ms IS NULL;
`

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the database at path and ensures the
// schema exists. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY without a retry dance.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Devices() store.DeviceStore         { return &deviceStore{db: s.db} }
func (s *Store) Users() store.UserStore             { return &userStore{db: s.db} }
func (s *Store) Credentials() store.CredentialStore { return &credentialStore{db: s.db} }
func (s *Store) Grants() store.GrantStore           { return &grantStore{db: s.db} }
func (s *Store) Logs() store.AccessLogStore         { return &logStore{db: s.db} }

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- devices ---------------------------------------------------------------

type deviceStore struct{ db *sql.DB }

const deviceCols = `id, serial, company_id, name, status, model_name, firmware, fp_algo,
 user_capacity, fp_capacity, card_capacity, pwd_capacity, log_capacity,
 users_used, fp_used, cards_used, pwd_used, logs_used,
 set_device_name, set_language, set_volume, set_screensaver, set_verify_mode, set_sleep,
 settings_pending, last_seen_ms`

func scanDevice(row interface{ Scan(...any) error }) (*store.Device, error) {
	var d store.Device
	var pending int
	var lastSeen int64
	err := row.Scan(
		&d.ID, &d.Serial, &d.CompanyID, &d.Name, &d.Status, &d.ModelName, &d.Firmware, &d.FPAlgo,
		&d.UserCapacity, &d.FPCapacity, &d.CardCapacity, &d.PwdCapacity, &d.LogCapacity,
		&d.UsersUsed, &d.FPUsed, &d.CardsUsed, &d.PwdUsed, &d.LogsUsed,
		&d.Settings.DeviceName, &d.Settings.Language, &d.Settings.Volume,
		&d.Settings.ScreenSaver, &d.Settings.VerifyMode, &d.Settings.Sleep,
		&pending, &lastSeen,
	)
	if err != nil {
		return nil, err
	}
	d.SettingsPending = pending != 0
	d.LastSeenAt = fromMS(lastSeen)
	return &d, nil
}

func (s *deviceStore) BySerial(ctx context.Context, serial string) (*store.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE serial = ?`, serial)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("device by serial: %w", err)
	}
	return d, nil
}

func (s *deviceStore) Upsert(ctx context.Context, d *store.Device) (*store.Device, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO devices (
  serial, company_id, name, status, model_name, firmware, fp_algo,
  user_capacity, fp_capacity, card_capacity, pwd_capacity, log_capacity,
  users_used, fp_used, cards_used, pwd_used, logs_used,
  set_device_name, set_language, set_volume, set_screensaver, set_verify_mode, set_sleep,
  settings_pending, last_seen_ms
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(serial) DO UPDATE SET
  company_id=excluded.company_id, name=excluded.name, status=excluded.status,
  model_name=excluded.model_name, firmware=excluded.firmware, fp_algo=excluded.fp_algo,
  user_capacity=excluded.user_capacity, fp_capacity=excluded.fp_capacity,
  card_capacity=excluded.card_capacity, pwd_capacity=excluded.pwd_capacity,
  log_capacity=excluded.log_capacity,
  users_used=excluded.users_used, fp_used=excluded.fp_used, cards_used=excluded.cards_used,
  pwd_used=excluded.pwd_used, logs_used=excluded.logs_used,
  set_device_name=excluded.set_device_name, set_language=excluded.set_language,
  set_volume=excluded.set_volume, set_screensaver=excluded.set_screensaver,
  set_verify_mode=excluded.set_verify_mode, set_sleep=excluded.set_sleep,
  settings_pending=excluded.settings_pending, last_seen_ms=excluded.last_seen_ms`,
		d.Serial, d.CompanyID, d.Name, string(d.Status), d.ModelName, d.Firmware, d.FPAlgo,
		d.UserCapacity, d.FPCapacity, d.CardCapacity, d.PwdCapacity, d.LogCapacity,
		d.UsersUsed, d.FPUsed, d.CardsUsed, d.PwdUsed, d.LogsUsed,
		d.Settings.DeviceName, d.Settings.Language, d.Settings.Volume,
		d.Settings.ScreenSaver, d.Settings.VerifyMode, d.Settings.Sleep,
		boolInt(d.SettingsPending), ms(d.LastSeenAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	return s.BySerial(ctx, d.Serial)
}

func (s *deviceStore) SetStatus(ctx context.Context, serial string, status store.DeviceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET status = ?, last_seen_ms = ? WHERE serial = ?`,
		string(status), ms(time.Now()), serial)
	if err != nil {
		return fmt.Errorf("set device status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *deviceStore) ClearSettingsPending(ctx context.Context, deviceID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET settings_pending = 0 WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("clear settings pending: %w", err)
	}
	return nil
}

func (s *deviceStore) All(ctx context.Context) ([]*store.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceCols+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all devices: %w", err)
	}
	defer rows.Close()

	var out []*store.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("all devices: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- users -----------------------------------------------------------------

type userStore struct{ db *sql.DB }

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var u store.User
	var placeholder int
	var created int64
	if err := row.Scan(&u.ID, &u.CompanyID, &u.EnrollID, &u.Name, &placeholder, &created); err != nil {
		return nil, err
	}
	u.Placeholder = placeholder != 0
	u.CreatedAt = fromMS(created)
	return &u, nil
}

func (s *userStore) ByID(ctx context.Context, id int64) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, enroll_id, name, placeholder, created_ms FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

func (s *userStore) ByEnrollID(ctx context.Context, companyID int64, enrollID int) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, enroll_id, name, placeholder, created_ms
		 FROM users WHERE company_id = ? AND enroll_id = ?`, companyID, enrollID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by enroll id: %w", err)
	}
	return u, nil
}

func (s *userStore) CreatePlaceholder(ctx context.Context, companyID int64, enrollID int, name string) (*store.User, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (company_id, enroll_id, name, placeholder, created_ms)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT(company_id, enroll_id) DO NOTHING`,
		companyID, enrollID, name, ms(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("create placeholder user: %w", err)
	}
	return s.ByEnrollID(ctx, companyID, enrollID)
}

// --- credentials -----------------------------------------------------------

type credentialStore struct{ db *sql.DB }

func (s *credentialStore) Upsert(ctx context.Context, c *store.Credential) (*store.Credential, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials (user_id, enroll_id, backup_num, admin, record)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id, backup_num) DO UPDATE SET
  enroll_id=excluded.enroll_id, admin=excluded.admin, record=excluded.record`,
		c.UserID, c.EnrollID, c.BackupNum, c.Admin, c.Record)
	if err != nil {
		return nil, fmt.Errorf("upsert credential: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, enroll_id, backup_num, admin, record
		 FROM credentials WHERE user_id = ? AND backup_num = ?`, c.UserID, c.BackupNum)
	var out store.Credential
	if err := row.Scan(&out.ID, &out.UserID, &out.EnrollID, &out.BackupNum, &out.Admin, &out.Record); err != nil {
		return nil, fmt.Errorf("upsert credential readback: %w", err)
	}
	return &out, nil
}

func (s *credentialStore) ForUser(ctx context.Context, userID int64) ([]*store.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, enroll_id, backup_num, admin, record
		 FROM credentials WHERE user_id = ? ORDER BY backup_num`, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials for user: %w", err)
	}
	defer rows.Close()

	var out []*store.Credential
	for rows.Next() {
		var c store.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.EnrollID, &c.BackupNum, &c.Admin, &c.Record); err != nil {
			return nil, fmt.Errorf("credentials for user: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- grants ----------------------------------------------------------------

type grantStore struct{ db *sql.DB }

const grantCols = `id, user_id, device_id, enroll_id, enabled, week_zone, start_time, end_time,
 needs_credential_push, needs_name_push, needs_delete, needs_enable_sync`

func scanGrant(row interface{ Scan(...any) error }) (*store.AccessGrant, error) {
	var g store.AccessGrant
	var enabled, cred, name, del, enable int
	err := row.Scan(&g.ID, &g.UserID, &g.DeviceID, &g.EnrollID, &enabled,
		&g.WeekZone, &g.StartTime, &g.EndTime, &cred, &name, &del, &enable)
	if err != nil {
		return nil, err
	}
	g.Enabled = enabled != 0
	g.NeedsCredentialPush = cred != 0
	g.NeedsNamePush = name != 0
	g.NeedsDelete = del != 0
	g.NeedsEnableSync = enable != 0
	return &g, nil
}

func (s *grantStore) query(ctx context.Context, where string, args ...any) ([]*store.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+grantCols+` FROM access_grants WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var out []*store.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("query grants: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *grantStore) ForDevice(ctx context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.query(ctx, `device_id = ?`, deviceID)
}

func (s *grantStore) PendingCredentials(ctx context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.query(ctx, `device_id = ? AND needs_credential_push = 1 AND needs_delete = 0`, deviceID)
}

func (s *grantStore) PendingNames(ctx context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.query(ctx, `device_id = ? AND needs_name_push = 1 AND needs_delete = 0`, deviceID)
}

func (s *grantStore) PendingDeletes(ctx context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.query(ctx, `device_id = ? AND needs_delete = 1`, deviceID)
}

func (s *grantStore) PendingEnables(ctx context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.query(ctx, `device_id = ? AND needs_enable_sync = 1 AND needs_delete = 0`, deviceID)
}

func (s *grantStore) Update(ctx context.Context, g *store.AccessGrant) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE access_grants SET
  user_id=?, device_id=?, enroll_id=?, enabled=?, week_zone=?, start_time=?, end_time=?,
  needs_credential_push=?, needs_name_push=?, needs_delete=?, needs_enable_sync=?
WHERE id=?`,
		g.UserID, g.DeviceID, g.EnrollID, boolInt(g.Enabled), g.WeekZone, g.StartTime, g.EndTime,
		boolInt(g.NeedsCredentialPush), boolInt(g.NeedsNamePush),
		boolInt(g.NeedsDelete), boolInt(g.NeedsEnableSync), g.ID)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *grantStore) Upsert(ctx context.Context, g *store.AccessGrant) (*store.AccessGrant, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO access_grants (
  user_id, device_id, enroll_id, enabled, week_zone, start_time, end_time,
  needs_credential_push, needs_name_push, needs_delete, needs_enable_sync
) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(device_id, enroll_id) DO UPDATE SET
  user_id=excluded.user_id, enabled=excluded.enabled, week_zone=excluded.week_zone,
  start_time=excluded.start_time, end_time=excluded.end_time,
  needs_credential_push=excluded.needs_credential_push,
  needs_name_push=excluded.needs_name_push,
  needs_delete=excluded.needs_delete,
  needs_enable_sync=excluded.needs_enable_sync`,
		g.UserID, g.DeviceID, g.EnrollID, boolInt(g.Enabled), g.WeekZone, g.StartTime, g.EndTime,
		boolInt(g.NeedsCredentialPush), boolInt(g.NeedsNamePush),
		boolInt(g.NeedsDelete), boolInt(g.NeedsEnableSync))
	if err != nil {
		return nil, fmt.Errorf("upsert grant: %w", err)
	}
	return s.ByDeviceAndEnroll(ctx, g.DeviceID, g.EnrollID)
}

func (s *grantStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_grants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *grantStore) ByDeviceAndEnroll(ctx context.Context, deviceID int64, enrollID int) (*store.AccessGrant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+grantCols+` FROM access_grants WHERE device_id = ? AND enroll_id = ?`,
		deviceID, enrollID)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("grant by device and enroll: %w", err)
	}
	return g, nil
}

func (s *grantStore) MarkAllCredentialsPending(ctx context.Context, deviceID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE access_grants SET needs_credential_push = 1 WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("mark credentials pending: %w", err)
	}
	return nil
}

// --- access logs -----------------------------------------------------------

type logStore struct{ db *sql.DB }

const logCols = `id, user_id, device_id, company_id, enroll_id, entry_ms, exit_ms,
 duration_sec, action, success, event_type, close_reason`

func scanLog(row interface{ Scan(...any) error }) (*store.AccessLog, error) {
	var l store.AccessLog
	var entry int64
	var exit sql.NullInt64
	var success int
	err := row.Scan(&l.ID, &l.UserID, &l.DeviceID, &l.CompanyID, &l.EnrollID,
		&entry, &exit, &l.DurationSec, &l.Action, &success, &l.EventType, &l.CloseReason)
	if err != nil {
		return nil, err
	}
	l.EntryAt = fromMS(entry)
	if exit.Valid {
		t := fromMS(exit.Int64)
		l.ExitAt = &t
	}
	l.Success = success != 0
	return &l, nil
}

func (s *logStore) OpenEntry(ctx context.Context, userID, deviceID int64) (*store.AccessLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logCols+` FROM access_logs
		 WHERE user_id = ? AND device_id = ? AND exit_ms IS NULL
		 ORDER BY entry_ms LIMIT 1`, userID, deviceID)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	return l, nil
}

func (s *logStore) Exists(ctx context.Context, userID, deviceID int64, at time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM access_logs
		 WHERE user_id = ? AND device_id = ? AND (entry_ms = ? OR exit_ms = ?)`,
		userID, deviceID, ms(at), ms(at)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("log exists: %w", err)
	}
	return n > 0, nil
}

func (s *logStore) Create(ctx context.Context, l *store.AccessLog) (*store.AccessLog, error) {
	var exit any
	if l.ExitAt != nil {
		exit = ms(*l.ExitAt)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO access_logs (
  user_id, device_id, company_id, enroll_id, entry_ms, exit_ms,
  duration_sec, action, success, event_type, close_reason
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		l.UserID, l.DeviceID, l.CompanyID, l.EnrollID, ms(l.EntryAt), exit,
		l.DurationSec, string(l.Action), boolInt(l.Success), l.EventType, l.CloseReason)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	out := *l
	out.ID = id
	return &out, nil
}

func (s *logStore) Update(ctx context.Context, l *store.AccessLog) error {
	var exit any
	if l.ExitAt != nil {
		exit = ms(*l.ExitAt)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE access_logs SET
  exit_ms=?, duration_sec=?, action=?, success=?, event_type=?, close_reason=?
WHERE id=?`,
		exit, l.DurationSec, string(l.Action), boolInt(l.Success), l.EventType, l.CloseReason, l.ID)
	if err != nil {
		return fmt.Errorf("update log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *logStore) OpenOlderThan(ctx context.Context, cutoff time.Time) ([]*store.AccessLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logCols+` FROM access_logs
		 WHERE exit_ms IS NULL AND entry_ms < ? ORDER BY entry_ms`, ms(cutoff))
	if err != nil {
		return nil, fmt.Errorf("open older than: %w", err)
	}
	defer rows.Close()

	var out []*store.AccessLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("open older than: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *logStore) Recent(ctx context.Context, deviceID int64, limit int) ([]*store.AccessLog, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ``
	args := []any{}
	if deviceID != 0 {
		where = `WHERE device_id = ?`
		args = append(args, deviceID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logCols+` FROM access_logs `+where+` ORDER BY entry_ms DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var out []*store.AccessLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("recent logs: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

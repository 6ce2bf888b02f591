// Package memory is the in-memory Store implementation, used by tests and
// by dev mode. All substores share one mutex; the engine's load is far
// below the point where that matters.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/termlink-protocol/termlink-go/pkg/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	nextID      int64
	devices     map[int64]*store.Device
	users       map[int64]*store.User
	credentials map[int64]*store.Credential
	grants      map[int64]*store.AccessGrant
	logs        map[int64]*store.AccessLog
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:      1,
		devices:     make(map[int64]*store.Device),
		users:       make(map[int64]*store.User),
		credentials: make(map[int64]*store.Credential),
		grants:      make(map[int64]*store.AccessGrant),
		logs:        make(map[int64]*store.AccessLog),
	}
}

func (s *Store) Devices() store.DeviceStore         { return (*deviceStore)(s) }
func (s *Store) Users() store.UserStore             { return (*userStore)(s) }
func (s *Store) Credentials() store.CredentialStore { return (*credentialStore)(s) }
func (s *Store) Grants() store.GrantStore           { return (*grantStore)(s) }
func (s *Store) Logs() store.AccessLogStore         { return (*logStore)(s) }

func (s *Store) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// --- devices ---------------------------------------------------------------

type deviceStore Store

func (s *deviceStore) BySerial(_ context.Context, serial string) (*store.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.Serial == serial {
			cp := *d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *deviceStore) Upsert(_ context.Context, d *store.Device) (*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.devices {
		if existing.Serial == d.Serial {
			cp := *d
			cp.ID = id
			s.devices[id] = &cp
			out := cp
			return &out, nil
		}
	}

	cp := *d
	cp.ID = (*Store)(s).allocID()
	s.devices[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *deviceStore) SetStatus(_ context.Context, serial string, status store.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.devices {
		if d.Serial == serial {
			d.Status = status
			d.LastSeenAt = time.Now()
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *deviceStore) ClearSettingsPending(_ context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	d.SettingsPending = false
	return nil
}

func (s *deviceStore) All(_ context.Context) ([]*store.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Device, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- users -----------------------------------------------------------------

type userStore Store

func (s *userStore) ByID(_ context.Context, id int64) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) ByEnrollID(_ context.Context, companyID int64, enrollID int) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.CompanyID == companyID && u.EnrollID == enrollID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *userStore) CreatePlaceholder(_ context.Context, companyID int64, enrollID int, name string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.CompanyID == companyID && u.EnrollID == enrollID {
			cp := *u
			return &cp, nil
		}
	}

	u := &store.User{
		ID:          (*Store)(s).allocID(),
		CompanyID:   companyID,
		EnrollID:    enrollID,
		Name:        name,
		Placeholder: true,
		CreatedAt:   time.Now(),
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

// AddUser seeds a full (non-placeholder) user. Test helper.
func (s *Store) AddUser(u store.User) *store.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.allocID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = &u
	cp := u
	return &cp
}

// --- credentials -----------------------------------------------------------

type credentialStore Store

func (s *credentialStore) Upsert(_ context.Context, c *store.Credential) (*store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.credentials {
		if existing.UserID == c.UserID && existing.BackupNum == c.BackupNum {
			cp := *c
			cp.ID = id
			s.credentials[id] = &cp
			out := cp
			return &out, nil
		}
	}

	cp := *c
	cp.ID = (*Store)(s).allocID()
	s.credentials[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *credentialStore) ForUser(_ context.Context, userID int64) ([]*store.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Credential
	for _, c := range s.credentials {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BackupNum < out[j].BackupNum })
	return out, nil
}

// --- grants ----------------------------------------------------------------

type grantStore Store

func (s *grantStore) ForDevice(_ context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.filter(func(g *store.AccessGrant) bool { return g.DeviceID == deviceID })
}

func (s *grantStore) PendingCredentials(_ context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.filter(func(g *store.AccessGrant) bool {
		return g.DeviceID == deviceID && g.NeedsCredentialPush && !g.NeedsDelete
	})
}

func (s *grantStore) PendingNames(_ context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.filter(func(g *store.AccessGrant) bool {
		return g.DeviceID == deviceID && g.NeedsNamePush && !g.NeedsDelete
	})
}

func (s *grantStore) PendingDeletes(_ context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.filter(func(g *store.AccessGrant) bool {
		return g.DeviceID == deviceID && g.NeedsDelete
	})
}

func (s *grantStore) PendingEnables(_ context.Context, deviceID int64) ([]*store.AccessGrant, error) {
	return s.filter(func(g *store.AccessGrant) bool {
		return g.DeviceID == deviceID && g.NeedsEnableSync && !g.NeedsDelete
	})
}

func (s *grantStore) filter(keep func(*store.AccessGrant) bool) ([]*store.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.AccessGrant
	for _, g := range s.grants {
		if keep(g) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *grantStore) Update(_ context.Context, g *store.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[g.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *grantStore) Upsert(_ context.Context, g *store.AccessGrant) (*store.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.grants {
		if existing.DeviceID == g.DeviceID && existing.EnrollID == g.EnrollID {
			cp := *g
			cp.ID = id
			s.grants[id] = &cp
			out := cp
			return &out, nil
		}
	}

	cp := *g
	cp.ID = (*Store)(s).allocID()
	s.grants[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *grantStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.grants, id)
	return nil
}

func (s *grantStore) ByDeviceAndEnroll(_ context.Context, deviceID int64, enrollID int) (*store.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.grants {
		if g.DeviceID == deviceID && g.EnrollID == enrollID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *grantStore) MarkAllCredentialsPending(_ context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.grants {
		if g.DeviceID == deviceID {
			g.NeedsCredentialPush = true
		}
	}
	return nil
}

// --- access logs -----------------------------------------------------------

type logStore Store

func (s *logStore) OpenEntry(_ context.Context, userID, deviceID int64) (*store.AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.logs {
		if l.UserID == userID && l.DeviceID == deviceID && l.IsOpen() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *logStore) Exists(_ context.Context, userID, deviceID int64, at time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.logs {
		if l.UserID != userID || l.DeviceID != deviceID {
			continue
		}
		if l.EntryAt.Equal(at) {
			return true, nil
		}
		if l.ExitAt != nil && l.ExitAt.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

func (s *logStore) Create(_ context.Context, l *store.AccessLog) (*store.AccessLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *l
	cp.ID = (*Store)(s).allocID()
	s.logs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *logStore) Update(_ context.Context, l *store.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[l.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *l
	s.logs[l.ID] = &cp
	return nil
}

func (s *logStore) OpenOlderThan(_ context.Context, cutoff time.Time) ([]*store.AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.AccessLog
	for _, l := range s.logs {
		if l.IsOpen() && l.EntryAt.Before(cutoff) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryAt.Before(out[j].EntryAt) })
	return out, nil
}

func (s *logStore) Recent(_ context.Context, deviceID int64, limit int) ([]*store.AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.AccessLog
	for _, l := range s.logs {
		if deviceID == 0 || l.DeviceID == deviceID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryAt.After(out[j].EntryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LogCount returns the number of stored log rows. Test helper.
func (s *Store) LogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termlink-protocol/termlink-go/pkg/store"
	"github.com/termlink-protocol/termlink-go/pkg/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeviceStore_UpsertAndStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.Devices().Upsert(ctx, &store.Device{
		Serial:    "ZX500",
		Status:    store.DeviceDisconnected,
		ModelName: "TFS30",
		Settings:  store.DeviceSettings{Volume: 3},
	})
	require.NoError(t, err)
	assert.NotZero(t, d.ID)

	// Upsert again with new firmware keeps the same row.
	d2, err := s.Devices().Upsert(ctx, &store.Device{Serial: "ZX500", Firmware: "2.19"})
	require.NoError(t, err)
	assert.Equal(t, d.ID, d2.ID)
	assert.Equal(t, "2.19", d2.Firmware)

	require.NoError(t, s.Devices().SetStatus(ctx, "ZX500", store.DeviceConnected))
	got, err := s.Devices().BySerial(ctx, "ZX500")
	require.NoError(t, err)
	assert.Equal(t, store.DeviceConnected, got.Status)

	assert.ErrorIs(t, s.Devices().SetStatus(ctx, "NOPE", store.DeviceConnected), store.ErrNotFound)
}

func TestUserStore_PlaceholderIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u1, err := s.Users().CreatePlaceholder(ctx, 1, 42, "enroll 42")
	require.NoError(t, err)
	assert.True(t, u1.Placeholder)

	u2, err := s.Users().CreatePlaceholder(ctx, 1, 42, "enroll 42")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)

	_, err = s.Users().ByEnrollID(ctx, 2, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGrantStore_PendingSubsets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []*store.AccessGrant{
		{UserID: 1, DeviceID: 5, EnrollID: 1, NeedsCredentialPush: true},
		{UserID: 2, DeviceID: 5, EnrollID: 2, NeedsNamePush: true},
		{UserID: 3, DeviceID: 5, EnrollID: 3, NeedsDelete: true, NeedsCredentialPush: true},
		{UserID: 4, DeviceID: 6, EnrollID: 1, NeedsCredentialPush: true},
	}
	for _, g := range seed {
		_, err := s.Grants().Upsert(ctx, g)
		require.NoError(t, err)
	}

	creds, err := s.Grants().PendingCredentials(ctx, 5)
	require.NoError(t, err)
	require.Len(t, creds, 1, "a grant pending delete must not also push credentials")
	assert.Equal(t, 1, creds[0].EnrollID)

	deletes, err := s.Grants().PendingDeletes(ctx, 5)
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, 3, deletes[0].EnrollID)

	require.NoError(t, s.Grants().MarkAllCredentialsPending(ctx, 5))
	creds, err = s.Grants().PendingCredentials(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, creds, 2)
}

func TestLogStore_OpenEntryLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entryAt := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	l, err := s.Logs().Create(ctx, &store.AccessLog{
		UserID: 7, DeviceID: 3, EnrollID: 7,
		EntryAt: entryAt, Action: store.ActionEntry, Success: true,
	})
	require.NoError(t, err)

	open, err := s.Logs().OpenEntry(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, l.ID, open.ID)

	exists, err := s.Logs().Exists(ctx, 7, 3, entryAt)
	require.NoError(t, err)
	assert.True(t, exists)

	exitAt := entryAt.Add(90 * time.Minute)
	open.ExitAt = &exitAt
	open.DurationSec = int64(90 * 60)
	open.Action = store.ActionExit
	require.NoError(t, s.Logs().Update(ctx, open))

	_, err = s.Logs().OpenEntry(ctx, 7, 3)
	assert.ErrorIs(t, err, store.ErrNotFound)

	exists, err = s.Logs().Exists(ctx, 7, 3, exitAt)
	require.NoError(t, err)
	assert.True(t, exists, "exit timestamps participate in duplicate detection")

	stale, err := s.Logs().OpenOlderThan(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestCredentialStore_UpsertReplacesSlot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c1, err := s.Credentials().Upsert(ctx, &store.Credential{
		UserID: 9, EnrollID: 9, BackupNum: 0, Record: "TPL-A",
	})
	require.NoError(t, err)

	c2, err := s.Credentials().Upsert(ctx, &store.Credential{
		UserID: 9, EnrollID: 9, BackupNum: 0, Record: "TPL-B",
	})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "TPL-B", c2.Record)

	all, err := s.Credentials().ForUser(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

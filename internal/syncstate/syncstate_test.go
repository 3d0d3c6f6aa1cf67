package syncstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/navsync/internal/database"
	"github.com/dukerupert/navsync/internal/model"
	"github.com/dukerupert/navsync/internal/store"
	"github.com/dukerupert/navsync/internal/testutil"
)

func TestLastBackupTime(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemoryKV()
	s := New(kv)

	_, ok, err := s.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.UnixMilli(1700000000123)
	require.NoError(t, s.SetLastBackupTime(ctx, at))
	assert.Equal(t, "1700000000123", kv.Snapshot()[KeyLastAutoBackupTime])

	got, ok, err := s.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestGarbageTimeIsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, KeyLastAutoBackupTime, "yesterday"))

	_, ok, err := New(kv).LastBackupTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkSynced(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemoryKV()
	s := New(kv)

	require.NoError(t, s.MarkSynced(ctx, "abc", time.UnixMilli(42)))
	snap := kv.Snapshot()
	assert.Equal(t, "abc", snap[KeyLastAutoBackupHash])
	assert.Equal(t, "42", snap[KeyLastAutoBackupTime])

	hash, err := s.LastHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", hash)
}

func TestRecordRestore(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	latestAuto := &model.BackupRecord{ID: 2, Type: model.BackupTypeAuto, FileHash: "h2"}

	t.Run("latest auto with same content", func(t *testing.T) {
		s := New(testutil.NewMemoryKV())
		synced, err := s.RecordRestore(ctx, 2, "h2", latestAuto, now)
		require.NoError(t, err)
		assert.True(t, synced)
		hash, _ := s.LastHash(ctx)
		assert.Equal(t, "h2", hash)
	})

	t.Run("older backup", func(t *testing.T) {
		kv := testutil.NewMemoryKV()
		s := New(kv)
		require.NoError(t, s.SetLastHash(ctx, "h2"))
		synced, err := s.RecordRestore(ctx, 1, "h1", latestAuto, now)
		require.NoError(t, err)
		assert.False(t, synced)
		_, ok, _ := kv.Get(ctx, KeyLastAutoBackupHash)
		assert.False(t, ok, "hash cleared so the restored data is uploaded")
	})

	t.Run("no auto backups", func(t *testing.T) {
		s := New(testutil.NewMemoryKV())
		require.NoError(t, s.SetLastHash(ctx, "stale"))
		synced, err := s.RecordRestore(ctx, 5, "h5", nil, now)
		require.NoError(t, err)
		assert.False(t, synced)
		hash, _ := s.LastHash(ctx)
		assert.Empty(t, hash)
	})
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	clk := testutil.FixedClock()
	s := New(testutil.NewMemoryKV())
	ttl := 2 * time.Minute

	held, err := s.LockHeld(ctx, clk.Now(), ttl)
	require.NoError(t, err)
	assert.False(t, held, "no lock yet")

	require.NoError(t, s.Lock(ctx, clk.Now()))
	held, err = s.LockHeld(ctx, clk.Now(), ttl)
	require.NoError(t, err)
	assert.True(t, held)

	clk.Advance(ttl)
	held, err = s.LockHeld(ctx, clk.Now(), ttl)
	require.NoError(t, err)
	assert.False(t, held, "lock older than ttl is stale")

	require.NoError(t, s.Lock(ctx, clk.Now()))
	require.NoError(t, s.Unlock(ctx))
	held, err = s.LockHeld(ctx, clk.Now(), ttl)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestKVErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	kv := testutil.NewMemoryKV()
	kv.SetErr = boom
	kv.DelErr = boom
	s := New(kv)

	assert.ErrorIs(t, s.Lock(ctx, time.Now()), boom)
	assert.ErrorIs(t, s.Unlock(ctx), boom)
	assert.ErrorIs(t, s.SetLastHash(ctx, "x"), boom)

	kv.GetErr = boom
	_, err := s.LockHeld(ctx, time.Now(), time.Minute)
	assert.ErrorIs(t, err, boom)
}

func TestOverStateStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(":memory:", database.Client)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(store.NewStateStore(db))
	require.NoError(t, s.MarkSynced(ctx, "def", time.UnixMilli(99)))
	require.NoError(t, s.Lock(ctx, time.UnixMilli(100)))

	hash, err := s.LastHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "def", hash)

	held, err := s.LockHeld(ctx, time.UnixMilli(150), time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, s.Unlock(ctx))
	held, err = s.LockHeld(ctx, time.UnixMilli(150), time.Minute)
	require.NoError(t, err)
	assert.False(t, held)
}

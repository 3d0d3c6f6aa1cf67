package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/dataset"
	"github.com/dukerupert/navsync/internal/model"
	"github.com/dukerupert/navsync/internal/scheduler"
	"github.com/dukerupert/navsync/internal/syncstate"
	"github.com/dukerupert/navsync/internal/testutil"
)

type memoryRemote struct {
	mu       sync.Mutex
	backups  []model.BackupRecord
	contents map[int64][]byte
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{contents: make(map[int64][]byte)}
}

func (r *memoryRemote) Latest(ctx context.Context) (*model.BackupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.backups) == 0 {
		return nil, nil
	}
	latest := r.backups[len(r.backups)-1]
	return &latest, nil
}

func (r *memoryRemote) RestoreBackup(ctx context.Context, id int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contents[id], nil
}

func (r *memoryRemote) CreateBackup(ctx context.Context, payload []byte, typ model.BackupType) (*model.BackupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, err := canonical.DigestPayload(payload)
	if err != nil {
		return nil, err
	}
	rec := model.BackupRecord{ID: int64(len(r.backups) + 1), Type: typ, FileHash: hash, CreatedAt: time.Now().UnixMilli()}
	r.backups = append(r.backups, rec)
	r.contents[rec.ID] = payload
	return &rec, nil
}

func (r *memoryRemote) newest() model.BackupRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backups[len(r.backups)-1]
}

func (r *memoryRemote) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backups)
}

func sample(n int) model.BackupData {
	d := model.BackupData{Categories: []map[string]any{}, Tags: []map[string]any{}, Settings: map[string]any{}}
	for i := 0; i < n; i++ {
		d.Websites = append(d.Websites, map[string]any{"id": float64(i + 1)})
	}
	return d
}

type outcomes struct {
	mu  sync.Mutex
	got []scheduler.Outcome
}

func (o *outcomes) record(out scheduler.Outcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, out)
}

func (o *outcomes) first() (scheduler.Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.got) == 0 {
		return "", false
	}
	return o.got[0], true
}

func startAgent(t *testing.T, ds *dataset.FileStore, remote *memoryRemote, session *Session) *outcomes {
	t.Helper()
	return startAgentWith(t, Config{
		Scheduler: scheduler.Config{
			InitialDelay: 10 * time.Millisecond,
			WakeInterval: time.Hour,
			Debounce:     time.Hour,
		},
		HashTimeout: time.Second,
	}, ds, remote, session)
}

func startAgentWith(t *testing.T, cfg Config, ds *dataset.FileStore, remote *memoryRemote, session *Session) *outcomes {
	t.Helper()
	log := &outcomes{}
	a := New(cfg, session, ds, remote, syncstate.New(testutil.NewMemoryKV()), slog.Default(), scheduler.WithCycleHook(log.record))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("agent did not stop")
		}
	})
	return log
}

func TestAgentBacksUpOnStartup(t *testing.T) {
	ds := dataset.NewFileStore(filepath.Join(t.TempDir(), "bookmarks.json"), "test")
	require.NoError(t, ds.Save(context.Background(), sample(2)))
	remote := newMemoryRemote()
	session := NewSession(true, true)

	log := startAgent(t, ds, remote, session)

	require.Eventually(t, func() bool { _, ok := log.first(); return ok }, 2*time.Second, 10*time.Millisecond)
	out, _ := log.first()
	assert.Equal(t, scheduler.OutcomeCreated, out)
	assert.Equal(t, 1, remote.count())
	assert.False(t, session.Suspended())
}

func TestAgentConflictSuspendsAutoBackup(t *testing.T) {
	ds := dataset.NewFileStore(filepath.Join(t.TempDir(), "bookmarks.json"), "test")
	require.NoError(t, ds.Save(context.Background(), sample(2)))

	remote := newMemoryRemote()
	raw, err := json.Marshal(model.BackupPayload{Data: sample(7)})
	require.NoError(t, err)
	_, err = remote.CreateBackup(context.Background(), raw, model.BackupTypeAuto)
	require.NoError(t, err)

	session := NewSession(true, true)
	log := startAgent(t, ds, remote, session)

	require.Eventually(t, func() bool { _, ok := log.first(); return ok }, 2*time.Second, 10*time.Millisecond)
	out, _ := log.first()
	assert.Equal(t, scheduler.OutcomeIdle, out)
	assert.True(t, session.Suspended())
	assert.Equal(t, 1, remote.count(), "suspended agent must not upload")
}

func TestAgentResumesAfterConflictResolvedElsewhere(t *testing.T) {
	ctx := context.Background()
	ds := dataset.NewFileStore(filepath.Join(t.TempDir(), "bookmarks.json"), "test")
	require.NoError(t, ds.Save(ctx, sample(2)))

	remote := newMemoryRemote()
	raw, err := json.Marshal(model.BackupPayload{Data: sample(7)})
	require.NoError(t, err)
	_, err = remote.CreateBackup(ctx, raw, model.BackupTypeAuto)
	require.NoError(t, err)

	session := NewSession(true, true)
	startAgentWith(t, Config{
		Scheduler: scheduler.Config{
			MinInterval:  time.Millisecond,
			InitialDelay: 10 * time.Millisecond,
			WakeInterval: 20 * time.Millisecond,
			Debounce:     time.Hour,
		},
		HashTimeout:     time.Second,
		RecheckInterval: 20 * time.Millisecond,
	}, ds, remote, session)

	require.Eventually(t, session.Suspended, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.True(t, session.Suspended())
	assert.Equal(t, 1, remote.count(), "suspended agent must not upload")

	// Another process keeps the local data, as 'navsync sync' would.
	local, err := ds.Export(ctx)
	require.NoError(t, err)
	raw, err = json.Marshal(local)
	require.NoError(t, err)
	_, err = remote.CreateBackup(ctx, raw, model.BackupTypeAuto)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !session.Suspended() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ds.Save(ctx, sample(3)))
	edited, err := ds.Export(ctx)
	require.NoError(t, err)
	want, err := canonical.Digest(edited.Data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		newest := remote.newest()
		return newest.Type == model.BackupTypeAuto && newest.FileHash == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession(t *testing.T) {
	s := NewSession(true, true)
	assert.True(t, s.AutoBackupEnabled())
	s.Suspend()
	assert.False(t, s.AutoBackupEnabled())
	s.Resume()
	assert.True(t, s.AutoBackupEnabled())

	assert.False(t, NewSession(true, false).AutoBackupEnabled())
	assert.False(t, NewSession(false, true).Authenticated())
}

// Package syncstate persists the client's automatic backup bookkeeping:
// when the last AUTO backup ran, which content digest it sent, and an
// advisory lock held while a cycle is in flight.
package syncstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/navsync/internal/model"
)

// Keys in the client key/value store.
const (
	KeyLastAutoBackupTime = "lastAutoBackupTime"
	KeyLastAutoBackupHash = "lastAutoBackupHash"
	KeyAutoBackupLock     = "autoBackupLock"
)

// KV is a persistent string store. Implemented by store.StateStore.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// State is a typed view over KV.
//
// The lock is advisory: reading and writing it are separate operations,
// so two processes sharing one KV can both acquire it. Server-side dedup
// catches the duplicate upload.
type State struct {
	kv KV
}

func New(kv KV) *State {
	return &State{kv: kv}
}

func (s *State) getMillis(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || v == "" {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Unparseable values are treated as absent.
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *State) setMillis(ctx context.Context, key string, t time.Time) error {
	if err := s.kv.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// LastBackupTime returns when the last AUTO cycle completed, if ever.
func (s *State) LastBackupTime(ctx context.Context) (time.Time, bool, error) {
	return s.getMillis(ctx, KeyLastAutoBackupTime)
}

func (s *State) SetLastBackupTime(ctx context.Context, t time.Time) error {
	return s.setMillis(ctx, KeyLastAutoBackupTime, t)
}

// LastHash returns the digest of the content last sent or skipped, or "".
func (s *State) LastHash(ctx context.Context) (string, error) {
	v, _, err := s.kv.Get(ctx, KeyLastAutoBackupHash)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", KeyLastAutoBackupHash, err)
	}
	return v, nil
}

func (s *State) SetLastHash(ctx context.Context, hash string) error {
	if err := s.kv.Set(ctx, KeyLastAutoBackupHash, hash); err != nil {
		return fmt.Errorf("set %s: %w", KeyLastAutoBackupHash, err)
	}
	return nil
}

// ClearLastHash forgets the last sent digest, so the next cycle uploads
// and the server's dedup decides whether a new record is needed.
func (s *State) ClearLastHash(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyLastAutoBackupHash); err != nil {
		return fmt.Errorf("delete %s: %w", KeyLastAutoBackupHash, err)
	}
	return nil
}

// RecordRestore updates the state after the local dataset was replaced by
// backup restoredID, whose content now hashes to digest. The digest is
// recorded only when that backup is latestAuto, the newest AUTO record,
// and holds the same content. Otherwise the last hash is cleared so the
// restored data is uploaded again. It reports whether the dataset is
// considered synced.
func (s *State) RecordRestore(ctx context.Context, restoredID int64, digest string, latestAuto *model.BackupRecord, now time.Time) (bool, error) {
	if latestAuto != nil && latestAuto.ID == restoredID && latestAuto.FileHash == digest {
		return true, s.MarkSynced(ctx, digest, now)
	}
	return false, s.ClearLastHash(ctx)
}

// MarkSynced records that content with hash is current on the server as of t.
func (s *State) MarkSynced(ctx context.Context, hash string, t time.Time) error {
	if err := s.SetLastHash(ctx, hash); err != nil {
		return err
	}
	return s.SetLastBackupTime(ctx, t)
}

// LockHeld reports whether a lock younger than ttl exists at now. Older
// locks are stale, left behind by a crashed cycle, and do not count.
func (s *State) LockHeld(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	at, ok, err := s.getMillis(ctx, KeyAutoBackupLock)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(at) < ttl, nil
}

// Lock writes the lock timestamp.
func (s *State) Lock(ctx context.Context, now time.Time) error {
	return s.setMillis(ctx, KeyAutoBackupLock, now)
}

// Unlock clears the lock.
func (s *State) Unlock(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyAutoBackupLock); err != nil {
		return fmt.Errorf("delete %s: %w", KeyAutoBackupLock, err)
	}
	return nil
}

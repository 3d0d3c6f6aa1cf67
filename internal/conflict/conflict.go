// Package conflict reconciles the local dataset with the server's backups
// once per session start.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/clock"
	"github.com/dukerupert/navsync/internal/model"
	"github.com/dukerupert/navsync/internal/syncstate"
)

// ErrNoRemote is returned by UseRemote when the server has no backups.
var ErrNoRemote = errors.New("no remote backup")

// Dataset is the local dataset. Implemented by dataset.FileStore.
type Dataset interface {
	Export(ctx context.Context) (model.BackupPayload, error)
	Import(ctx context.Context, payload []byte) error
}

// Remote is the backup server. Implemented by apiclient.Client.
type Remote interface {
	Latest(ctx context.Context) (*model.BackupRecord, error)
	RestoreBackup(ctx context.Context, backupID int64) ([]byte, error)
	CreateBackup(ctx context.Context, payload []byte, typ model.BackupType) (*model.BackupRecord, error)
}

// Hasher computes content digests. Implemented by canonical.Worker.
type Hasher interface {
	Submit(ctx context.Context, snapshot any) (string, error)
}

// Action is what Check did or wants the user to decide.
type Action string

const (
	ActionNone     Action = "none"
	ActionMigrated Action = "migrated"
	ActionRestored Action = "restored"
	ActionInSync   Action = "in_sync"
	ActionConflict Action = "conflict"
)

// Conflict describes divergent local and remote content.
type Conflict struct {
	LocalCount      int
	RemoteCount     int
	RemoteID        int64
	RemoteCreatedAt time.Time
}

type Result struct {
	Action   Action
	Conflict *Conflict
	// Record is the backup created by a migration, if any.
	Record *model.BackupRecord
}

type Resolver struct {
	dataset Dataset
	remote  Remote
	hasher  Hasher
	state   *syncstate.State
	clock   clock.Clock
	logger  *slog.Logger
}

func NewResolver(dataset Dataset, remote Remote, hasher Hasher, state *syncstate.State, clk clock.Clock, logger *slog.Logger) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{dataset: dataset, remote: remote, hasher: hasher, state: state, clock: clk, logger: logger}
}

// Check compares local and remote state and acts on the unambiguous
// cases. A newly registered user's local data always wins and is pushed.
// When both sides have differing content it returns ActionConflict and
// leaves the decision to UseRemote or KeepLocal.
func (r *Resolver) Check(ctx context.Context, newRegistration bool) (*Result, error) {
	local, err := r.dataset.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export local dataset: %w", err)
	}
	hasLocal := !local.Data.IsEmpty()

	latest, err := r.remote.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest backup: %w", err)
	}
	hasRemote := latest != nil

	logger := r.logger.With("has_local", hasLocal, "has_remote", hasRemote, "new_registration", newRegistration)

	switch {
	case !hasLocal && !hasRemote:
		return &Result{Action: ActionNone}, nil

	case hasLocal && newRegistration:
		record, err := r.push(ctx, local)
		if err != nil {
			return nil, err
		}
		logger.Info("local data migrated to new account")
		return &Result{Action: ActionMigrated, Record: record}, nil

	case !hasLocal && hasRemote:
		if err := r.restore(ctx, latest); err != nil {
			return nil, err
		}
		logger.Info("restored latest backup", "id", latest.ID)
		return &Result{Action: ActionRestored}, nil

	case hasLocal && hasRemote:
		digest, err := r.hasher.Submit(ctx, local.Data)
		if err != nil {
			return nil, fmt.Errorf("hash local dataset: %w", err)
		}
		if digest == latest.FileHash {
			// Only an AUTO record may become the last sent digest.
			if latest.Type == model.BackupTypeAuto {
				if err := r.state.SetLastHash(ctx, digest); err != nil {
					return nil, err
				}
			}
			return &Result{Action: ActionInSync}, nil
		}

		c := &Conflict{
			LocalCount:      len(local.Data.Websites),
			RemoteID:        latest.ID,
			RemoteCreatedAt: latest.Created(),
		}
		count, err := r.remoteCount(ctx, latest.ID)
		if err != nil {
			logger.Warn("count remote websites", "id", latest.ID, "error", err)
		} else {
			c.RemoteCount = count
		}
		logger.Info("local and remote data differ", "local_count", c.LocalCount, "remote_count", c.RemoteCount)
		return &Result{Action: ActionConflict, Conflict: c}, nil

	default:
		// Local data, nothing remote, existing account.
		return &Result{Action: ActionNone}, nil
	}
}

// UseRemote overwrites the local dataset with the latest remote backup.
func (r *Resolver) UseRemote(ctx context.Context) error {
	latest, err := r.remote.Latest(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest backup: %w", err)
	}
	if latest == nil {
		return ErrNoRemote
	}
	return r.restore(ctx, latest)
}

// KeepLocal pushes the local dataset as an AUTO backup and marks it current.
func (r *Resolver) KeepLocal(ctx context.Context) (*model.BackupRecord, error) {
	local, err := r.dataset.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export local dataset: %w", err)
	}
	return r.push(ctx, local)
}

func (r *Resolver) push(ctx context.Context, local model.BackupPayload) (*model.BackupRecord, error) {
	digest, err := r.hasher.Submit(ctx, local.Data)
	if err != nil {
		return nil, fmt.Errorf("hash local dataset: %w", err)
	}
	raw, err := json.Marshal(local)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	record, err := r.remote.CreateBackup(ctx, raw, model.BackupTypeAuto)
	if err != nil {
		return nil, fmt.Errorf("upload local dataset: %w", err)
	}
	if err := r.state.MarkSynced(ctx, digest, r.clock.Now()); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Resolver) restore(ctx context.Context, latest *model.BackupRecord) error {
	content, err := r.remote.RestoreBackup(ctx, latest.ID)
	if err != nil {
		return fmt.Errorf("download backup %d: %w", latest.ID, err)
	}
	if err := r.dataset.Import(ctx, content); err != nil {
		return fmt.Errorf("import backup %d: %w", latest.ID, err)
	}

	// Hash what was actually written locally; the scheduler skips it only
	// when it is exactly the newest AUTO record.
	local, err := r.dataset.Export(ctx)
	if err != nil {
		return fmt.Errorf("export restored dataset: %w", err)
	}
	digest, err := r.hasher.Submit(ctx, local.Data)
	if err != nil {
		return fmt.Errorf("hash restored dataset: %w", err)
	}
	var latestAuto *model.BackupRecord
	if latest.Type == model.BackupTypeAuto {
		latestAuto = latest
	}
	_, err = r.state.RecordRestore(ctx, latest.ID, digest, latestAuto, r.clock.Now())
	return err
}

// remoteCount returns the number of websites in a stored backup. Listings
// carry no counts, so the content is fetched.
func (r *Resolver) remoteCount(ctx context.Context, id int64) (int, error) {
	content, err := r.remote.RestoreBackup(ctx, id)
	if err != nil {
		return 0, err
	}
	v, err := canonical.Decode(content)
	if err != nil {
		return 0, err
	}
	switch core := canonical.Core(v).(type) {
	case []any:
		return len(core), nil
	case map[string]any:
		websites, _ := core["websites"].([]any)
		return len(websites), nil
	default:
		return 0, nil
	}
}

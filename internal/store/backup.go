package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/navsync/internal/model"
)

const backupColumns = `id, user_id, name, type, storage_key, file_hash, size, created_at`

// BackupStore is the sqlite index of stored backup blobs.
type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

// Insert writes r and sets r.ID.
func (s *BackupStore) Insert(ctx context.Context, r *model.BackupRecord) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO data_backups (user_id, name, type, storage_key, file_hash, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Name, r.Type, r.StorageKey, r.FileHash, r.Size, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert backup: last insert id: %w", err)
	}
	r.ID = id
	return nil
}

// Get returns the record with id owned by userID, or nil if none matches.
func (s *BackupStore) Get(ctx context.Context, userID string, id int64) (*model.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM data_backups WHERE id = ? AND user_id = ?`, id, userID,
	)
	r, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return r, nil
}

// List returns every record of userID, newest first.
func (s *BackupStore) List(ctx context.Context, userID string) ([]model.BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM data_backups WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return collectBackups(rows)
}

// ListByType returns records of userID with the given type, newest first.
// A limit <= 0 returns all of them.
func (s *BackupStore) ListByType(ctx context.Context, userID string, typ model.BackupType, limit int) ([]model.BackupRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM data_backups WHERE user_id = ? AND type = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, typ, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s backups: %w", typ, err)
	}
	return collectBackups(rows)
}

// Delete removes the record with id. Deleting a missing record is not an error.
func (s *BackupStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM data_backups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete backup %d: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBackup(sc scanner) (*model.BackupRecord, error) {
	var r model.BackupRecord
	if err := sc.Scan(&r.ID, &r.UserID, &r.Name, &r.Type, &r.StorageKey, &r.FileHash, &r.Size, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectBackups(rows *sql.Rows) ([]model.BackupRecord, error) {
	defer rows.Close()

	backups := []model.BackupRecord{}
	for rows.Next() {
		r, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *r)
	}
	return backups, rows.Err()
}

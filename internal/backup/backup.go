// Package backup is the server side of backup synchronization: it stores
// export payloads in blob storage, indexes them in a record store, skips
// unchanged automatic backups and enforces per-type retention.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/navsync/internal/blob"
	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/model"
)

const (
	DefaultMaxRetained = 5
	DefaultRootDir     = "data-backups"
)

// RecordStore indexes backup metadata. Implemented by store.BackupStore.
type RecordStore interface {
	Insert(ctx context.Context, r *model.BackupRecord) error
	Get(ctx context.Context, userID string, id int64) (*model.BackupRecord, error)
	List(ctx context.Context, userID string) ([]model.BackupRecord, error)
	ListByType(ctx context.Context, userID string, typ model.BackupType, limit int) ([]model.BackupRecord, error)
	Delete(ctx context.Context, id int64) error
}

// Notifier is told about record changes, e.g. to push live updates.
type Notifier interface {
	BackupCreated(r model.BackupRecord)
	BackupDeleted(r model.BackupRecord, reason string)
}

// Config holds backup store configuration.
type Config struct {
	RootDir     string
	MaxRetained int
}

// Service implements create, list, fetch and delete over a blob store and
// a record store.
type Service struct {
	cfg      Config
	blobs    blob.Store
	records  RecordStore
	metrics  *Metrics
	notifier Notifier
	logger   *slog.Logger

	now   func() time.Time
	nonce func() string
}

// Option customizes a Service.
type Option func(*Service)

func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithClock overrides the time source used for keys, names and timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a backup service. Zero config values fall back to
// DefaultRootDir and DefaultMaxRetained.
func NewService(cfg Config, blobs blob.Store, records RecordStore, logger *slog.Logger, opts ...Option) *Service {
	if cfg.RootDir == "" {
		cfg.RootDir = DefaultRootDir
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = DefaultMaxRetained
	}
	s := &Service{
		cfg:     cfg,
		blobs:   blobs,
		records: records,
		logger:  logger,
		now:     time.Now,
		nonce:   func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return fmt.Errorf("%w: user id %q contains path characters", ErrValidation, userID)
	}
	return nil
}

// CreateBackup stores payload for userID. For AUTO backups whose content
// digest equals the latest AUTO record it returns (nil, nil) without
// writing anything. MANUAL backups are always written.
func (s *Service) CreateBackup(ctx context.Context, userID string, payload []byte, typ model.BackupType) (*model.BackupRecord, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown backup type %q", ErrValidation, typ)
	}
	v, err := canonical.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return nil, fmt.Errorf("%w: payload must be a JSON object or array", ErrValidation)
	}

	fileHash, err := canonical.Digest(canonical.Core(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	logger := s.logger.With("user_id", userID, "type", typ)

	if typ == model.BackupTypeAuto {
		latest, err := s.records.ListByType(ctx, userID, model.BackupTypeAuto, 1)
		if err != nil {
			s.metrics.op("create", string(typ), "error")
			return nil, fmt.Errorf("%w: latest auto backup: %w", ErrStorageUnavailable, err)
		}
		if len(latest) > 0 && latest[0].FileHash == fileHash {
			logger.Debug("content unchanged, skipping backup", "file_hash", fileHash)
			s.metrics.op("create", string(typ), "skipped")
			return nil, nil
		}
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s/%s/backup_%s_%d_%s.json", s.cfg.RootDir, userID, userID, now.UnixMilli(), s.nonce())

	if err := s.blobs.Put(ctx, key, payload); err != nil {
		s.metrics.op("create", string(typ), "error")
		return nil, fmt.Errorf("%w: write blob: %w", ErrStorageUnavailable, err)
	}

	record := &model.BackupRecord{
		UserID:     userID,
		Name:       model.BackupName(typ, now),
		Type:       typ,
		StorageKey: key,
		FileHash:   fileHash,
		Size:       int64(len(payload)),
		CreatedAt:  now.UnixMilli(),
	}
	if err := s.records.Insert(ctx, record); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			logger.Warn("remove orphaned blob", "key", key, "error", derr)
		}
		s.metrics.op("create", string(typ), "error")
		return nil, fmt.Errorf("%w: insert record: %w", ErrStorageUnavailable, err)
	}

	s.metrics.op("create", string(typ), "created")
	s.metrics.written(string(typ), len(payload))
	logger.Info("backup created", "id", record.ID, "size", record.Size, "file_hash", fileHash)
	if s.notifier != nil {
		s.notifier.BackupCreated(*record)
	}

	s.evict(ctx, userID, typ)

	return record, nil
}

// evict removes every record of (userID, typ) beyond MaxRetained, newest
// first. Failures are logged and never stop the remaining work.
func (s *Service) evict(ctx context.Context, userID string, typ model.BackupType) {
	logger := s.logger.With("user_id", userID, "type", typ)

	records, err := s.records.ListByType(ctx, userID, typ, 0)
	if err != nil {
		logger.Warn("list backups for retention", "error", err)
		return
	}
	if len(records) <= s.cfg.MaxRetained {
		return
	}

	for _, r := range records[s.cfg.MaxRetained:] {
		s.removeBlob(ctx, r.StorageKey)
		if err := s.records.Delete(ctx, r.ID); err != nil {
			logger.Warn("delete evicted backup record", "id", r.ID, "error", err)
			s.metrics.evicted(string(typ), "error")
			continue
		}
		s.metrics.evicted(string(typ), "ok")
		logger.Info("backup evicted", "id", r.ID, "created_at", r.CreatedAt)
		if s.notifier != nil {
			s.notifier.BackupDeleted(r, "evicted")
		}
	}
}

// removeBlob deletes a blob best-effort. A missing blob counts as removed.
func (s *Service) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("delete backup blob", "key", key, "error", err)
	}
}

// ListBackups returns every backup of userID, newest first.
func (s *Service) ListBackups(ctx context.Context, userID string) ([]model.BackupRecord, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	records, err := s.records.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list backups: %w", ErrStorageUnavailable, err)
	}
	if records == nil {
		records = []model.BackupRecord{}
	}
	return records, nil
}

// GetBackup returns the record for backupID owned by userID.
func (s *Service) GetBackup(ctx context.Context, userID string, backupID int64) (*model.BackupRecord, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	record, err := s.records.Get(ctx, userID, backupID)
	if err != nil {
		return nil, fmt.Errorf("%w: get backup: %w", ErrStorageUnavailable, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, backupID)
	}
	return record, nil
}

// GetBackupContent returns the stored payload of backupID.
func (s *Service) GetBackupContent(ctx context.Context, userID string, backupID int64) ([]byte, error) {
	record, err := s.GetBackup(ctx, userID, backupID)
	if err != nil {
		s.metrics.op("restore", "", "error")
		return nil, err
	}

	data, err := s.blobs.Get(ctx, record.StorageKey)
	if errors.Is(err, blob.ErrNotFound) {
		s.metrics.op("restore", string(record.Type), "missing")
		return nil, fmt.Errorf("%w: blob for id %d", ErrNotFound, backupID)
	}
	if err != nil {
		s.metrics.op("restore", string(record.Type), "error")
		return nil, fmt.Errorf("%w: read blob: %w", ErrStorageUnavailable, err)
	}
	s.metrics.op("restore", string(record.Type), "ok")
	return data, nil
}

// DeleteBackup removes backupID. The blob is deleted best-effort; the
// record delete must succeed.
func (s *Service) DeleteBackup(ctx context.Context, userID string, backupID int64) error {
	record, err := s.GetBackup(ctx, userID, backupID)
	if err != nil {
		return err
	}

	s.removeBlob(ctx, record.StorageKey)

	if err := s.records.Delete(ctx, record.ID); err != nil {
		s.metrics.op("delete", string(record.Type), "error")
		return fmt.Errorf("%w: delete record: %w", ErrStorageUnavailable, err)
	}

	s.metrics.op("delete", string(record.Type), "ok")
	s.logger.Info("backup deleted", "user_id", userID, "id", record.ID)
	if s.notifier != nil {
		s.notifier.BackupDeleted(*record, "deleted")
	}
	return nil
}

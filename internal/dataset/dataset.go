// Package dataset is the client's local bookmark dataset: a single JSON
// file holding websites, categories, tags and settings.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/model"
)

// PayloadVersion is written into every export envelope.
const PayloadVersion = "1"

// FileStore reads and writes the dataset file. Writes are atomic.
type FileStore struct {
	mu         sync.Mutex
	path       string
	appVersion string
	now        func() time.Time
}

func NewFileStore(path, appVersion string) *FileStore {
	return &FileStore{path: path, appVersion: appVersion, now: time.Now}
}

// Path returns the dataset file location.
func (s *FileStore) Path() string { return s.path }

// Load returns the current dataset. A missing file is an empty dataset.
func (s *FileStore) Load(ctx context.Context) (model.BackupData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (model.BackupData, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyData(), nil
	}
	if err != nil {
		return model.BackupData{}, fmt.Errorf("read dataset: %w", err)
	}
	return decodeData(raw)
}

// Export returns the dataset wrapped in an export envelope.
func (s *FileStore) Export(ctx context.Context) (model.BackupPayload, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return model.BackupPayload{}, err
	}
	return model.BackupPayload{
		Meta: model.PayloadMeta{
			Version:    PayloadVersion,
			CreatedAt:  s.now().UnixMilli(),
			AppVersion: s.appVersion,
			Platform:   runtime.GOOS,
		},
		Data: data,
	}, nil
}

// Import replaces the local dataset with the content of an export
// payload. Legacy payloads (no envelope, or a bare website array) are
// accepted.
func (s *FileStore) Import(ctx context.Context, payload []byte) error {
	v, err := canonical.Decode(payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	core, err := json.Marshal(canonical.Core(v))
	if err != nil {
		return fmt.Errorf("encode payload core: %w", err)
	}
	data, err := decodeData(core)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(data)
}

// Save overwrites the dataset.
func (s *FileStore) Save(ctx context.Context, data model.BackupData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(data)
}

func (s *FileStore) save(data model.BackupData) error {
	raw, err := json.MarshalIndent(normalize(data), "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dataset-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename dataset: %w", err)
	}
	return nil
}

func decodeData(raw []byte) (model.BackupData, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.BackupData{}, fmt.Errorf("decode dataset: %w", err)
	}

	var data model.BackupData
	switch v.(type) {
	case []any:
		if err := json.Unmarshal(raw, &data.Websites); err != nil {
			return model.BackupData{}, fmt.Errorf("decode website list: %w", err)
		}
	case map[string]any:
		if err := json.Unmarshal(raw, &data); err != nil {
			return model.BackupData{}, fmt.Errorf("decode dataset: %w", err)
		}
	case nil:
	default:
		return model.BackupData{}, fmt.Errorf("decode dataset: expected object or array, got %T", v)
	}
	return normalize(data), nil
}

func normalize(d model.BackupData) model.BackupData {
	if d.Websites == nil {
		d.Websites = []map[string]any{}
	}
	if d.Categories == nil {
		d.Categories = []map[string]any{}
	}
	if d.Tags == nil {
		d.Tags = []map[string]any{}
	}
	if d.Settings == nil {
		d.Settings = map[string]any{}
	}
	return d
}

func emptyData() model.BackupData {
	return normalize(model.BackupData{})
}

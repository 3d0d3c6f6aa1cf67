package model

import (
	"fmt"
	"time"
)

type BackupType string

const (
	BackupTypeManual BackupType = "MANUAL"
	BackupTypeAuto   BackupType = "AUTO"
)

// Valid reports whether t is one of the known backup types.
func (t BackupType) Valid() bool {
	return t == BackupTypeManual || t == BackupTypeAuto
}

// ParseBackupType parses s, defaulting an empty string to MANUAL.
func ParseBackupType(s string) (BackupType, error) {
	if s == "" {
		return BackupTypeManual, nil
	}
	t := BackupType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown backup type %q", s)
	}
	return t, nil
}

// BackupRecord is the immutable metadata row for one stored backup blob.
type BackupRecord struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Type       BackupType `json:"type"`
	StorageKey string     `json:"storage_key"`
	FileHash   string     `json:"file_hash"`
	Size       int64      `json:"size"`
	CreatedAt  int64      `json:"created_at"`
}

// Created returns CreatedAt as a time.Time.
func (r BackupRecord) Created() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}

// BackupName derives the display name for a backup created at t.
func BackupName(typ BackupType, t time.Time) string {
	prefix := "Manual backup"
	if typ == BackupTypeAuto {
		prefix = "Auto backup"
	}
	return prefix + " " + t.UTC().Format("2006-01-02")
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/navsync/internal/auth"
	"github.com/dukerupert/navsync/internal/model"
)

// DefaultMaxPayloadBytes caps request bodies on backup routes.
const DefaultMaxPayloadBytes = 10 << 20

// BackupService is the server-side backup store. Implemented by backup.Service.
type BackupService interface {
	CreateBackup(ctx context.Context, userID string, payload []byte, typ model.BackupType) (*model.BackupRecord, error)
	ListBackups(ctx context.Context, userID string) ([]model.BackupRecord, error)
	GetBackupContent(ctx context.Context, userID string, backupID int64) ([]byte, error)
	DeleteBackup(ctx context.Context, userID string, backupID int64) error
}

type BackupHandler struct {
	svc             BackupService
	maxPayloadBytes int64
	logger          *slog.Logger
}

func NewBackupHandler(svc BackupService, maxPayloadBytes int64, logger *slog.Logger) *BackupHandler {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &BackupHandler{svc: svc, maxPayloadBytes: maxPayloadBytes, logger: logger}
}

type createRequest struct {
	Data json.RawMessage `json:"data"`
	Type string          `json:"type"`
}

type restoreRequest struct {
	BackupID backupID `json:"backupId"`
}

func (h *BackupHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayloadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFail(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return false
		}
		writeFail(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid JSON")
		return false
	}
	return true
}

// Create handles POST /api/backup.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}

	typ, err := model.ParseBackupType(req.Type)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	if len(bytes.TrimSpace(req.Data)) == 0 || bytes.Equal(bytes.TrimSpace(req.Data), []byte("null")) {
		writeFail(w, http.StatusBadRequest, "VALIDATION_FAILED", "data is required")
		return
	}

	record, err := h.svc.CreateBackup(r.Context(), userID, req.Data, typ)
	if err != nil {
		h.logger.Error("create backup", "user_id", userID, "type", typ, "error", err)
		writeError(w, err, "BACKUP_FAILED")
		return
	}
	if record == nil {
		writeJSON(w, http.StatusOK, response{Success: true, Skipped: true})
		return
	}
	writeOK(w, record)
}

// List handles GET /api/backups.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	records, err := h.svc.ListBackups(r.Context(), userID)
	if err != nil {
		h.logger.Error("list backups", "user_id", userID, "error", err)
		writeError(w, err, "LIST_FAILED")
		return
	}
	writeOK(w, records)
}

// Restore handles POST /api/backup/restore and returns the stored payload.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req restoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.BackupID <= 0 {
		writeFail(w, http.StatusBadRequest, "VALIDATION_FAILED", "backupId must be a positive integer")
		return
	}

	content, err := h.svc.GetBackupContent(r.Context(), userID, int64(req.BackupID))
	if err != nil {
		h.logger.Error("restore backup", "user_id", userID, "id", req.BackupID, "error", err)
		writeError(w, err, "RESTORE_FAILED")
		return
	}
	if !json.Valid(content) {
		h.logger.Error("stored backup is not valid JSON", "user_id", userID, "id", req.BackupID)
		writeFail(w, http.StatusInternalServerError, "RESTORE_FAILED", "stored backup is corrupt")
		return
	}
	writeOK(w, json.RawMessage(content))
}

// Delete handles DELETE /api/backup/{id}.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := parseIDParam(r)
	if err != nil || id <= 0 {
		writeFail(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid id")
		return
	}

	if err := h.svc.DeleteBackup(r.Context(), userID, id); err != nil {
		h.logger.Error("delete backup", "user_id", userID, "id", id, "error", err)
		writeError(w, err, "DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true})
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dukerupert/navsync/internal/backup"
)

// response is the JSON envelope returned by every API route.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, response{Code: code, Message: msg})
}

// writeError maps service errors onto HTTP status codes. fallback is the
// code used for unexpected failures.
func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, backup.ErrValidation):
		writeFail(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, backup.ErrNotFound):
		writeFail(w, http.StatusNotFound, "BACKUP_NOT_FOUND", "backup not found")
	case errors.Is(err, backup.ErrStorageUnavailable):
		writeFail(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "backup storage is temporarily unavailable")
	default:
		writeFail(w, http.StatusInternalServerError, fallback, "internal error")
	}
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

// backupID accepts a positive integer encoded as a JSON number or string.
type backupID int64

func (b *backupID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n = json.Number(s)
	} else if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return errors.New("backupId must be an integer")
	}
	*b = backupID(v)
	return nil
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/navsync/internal/auth"
	"github.com/dukerupert/navsync/internal/backup"
	"github.com/dukerupert/navsync/internal/blob"
	"github.com/dukerupert/navsync/internal/database"
	"github.com/dukerupert/navsync/internal/store"
	ws "github.com/dukerupert/navsync/internal/websocket"
)

const testSecret = "0123456789abcdef0123"

func setupServer(t *testing.T, cfg Config) (http.Handler, *auth.Verifier) {
	t.Helper()
	db, err := database.Open(":memory:", database.Server)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	reg := prometheus.NewRegistry()
	hub := ws.NewHub(slog.Default())
	svc := backup.NewService(backup.Config{}, blob.NewMemoryStore(), store.NewBackupStore(db), slog.Default(),
		backup.WithMetrics(backup.NewMetrics(reg)),
		backup.WithNotifier(ws.BackupNotifier{Hub: hub}),
	)
	srv := New(db, svc, hub, verifier, reg, cfg, slog.Default())
	return srv.Router(), verifier
}

func token(t *testing.T, v *auth.Verifier, userID string) string {
	t.Helper()
	tok, err := v.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func TestHealthIsPublic(t *testing.T) {
	router, _ := setupServer(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	router, _ := setupServer(t, Config{})

	for _, path := range []string{"/api/backups", "/ws"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestBackupRoundTrip(t *testing.T) {
	router, v := setupServer(t, Config{})
	tok := token(t, v, "alice")

	body := `{"data":{"meta":{"version":"1"},"data":{"websites":[{"id":1}]}},"type":"MANUAL"}`
	req := httptest.NewRequest("POST", "/api/backup", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/backups", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp struct {
		Success bool
		Data    []struct {
			UserID string `json:"user_id"`
			Type   string `json:"type"`
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].UserID != "alice" || resp.Data[0].Type != "MANUAL" {
		t.Errorf("list = %+v", resp.Data)
	}

	// Another user sees nothing.
	req = httptest.NewRequest("GET", "/api/backups", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, v, "bob"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Data) != 0 {
		t.Errorf("bob sees %d backups, want 0", len(resp.Data))
	}
}

func TestCreateRateLimited(t *testing.T) {
	router, v := setupServer(t, Config{CreateLimit: 2, CreateWindow: time.Minute})
	tok := token(t, v, "alice")

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/backup", strings.NewReader(`{"data":{}}`))
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third create status = %d, want %d", last, http.StatusTooManyRequests)
	}

	// Listing is not limited.
	req := httptest.NewRequest("GET", "/api/backups", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, v := setupServer(t, Config{})

	req := httptest.NewRequest("POST", "/api/backup", strings.NewReader(`{"data":{"data":{}},"type":"AUTO"}`))
	req.Header.Set("Authorization", "Bearer "+token(t, v, "alice"))
	router.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "navsync_backup_operations_total") {
		t.Error("metrics output missing navsync_backup_operations_total")
	}
}

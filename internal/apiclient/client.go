// Package apiclient talks to the navsync backup API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/navsync/internal/model"
)

var (
	// ErrNotFound is returned when the server has no such backup.
	ErrNotFound = errors.New("backup not found")
	// ErrUnavailable covers transport failures, timeouts, 5xx and 429.
	// These are worth retrying.
	ErrUnavailable = errors.New("backup server unavailable")
	// ErrRejected covers every other non-2xx response. Retrying will not help.
	ErrRejected = errors.New("request rejected")
)

// APIError carries the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%d %s)", e.kind, msg, e.Status, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.kind, msg, e.Status)
}

func (e *APIError) Unwrap() error { return e.kind }

// classifyStatus maps a non-2xx status to one of the sentinels.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client performs authenticated calls against the backup API.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		httpClient: hc,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Skipped bool            `json:"skipped"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller gave up; that is not a server problem.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    env.Code,
			Message: env.Message,
			kind:    classifyStatus(resp.StatusCode),
		}
	}
	if decodeErr != nil {
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, decodeErr)
		}
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	return &env, nil
}

// CreateBackup uploads payload. It returns (nil, nil) when the server
// skipped an unchanged AUTO backup.
func (c *Client) CreateBackup(ctx context.Context, payload []byte, typ model.BackupType) (*model.BackupRecord, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrRejected)
	}
	env, err := c.do(ctx, http.MethodPost, "/api/backup", map[string]any{
		"data": json.RawMessage(payload),
		"type": typ,
	})
	if err != nil {
		return nil, err
	}
	if env.Skipped || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var record model.BackupRecord
	if err := json.Unmarshal(env.Data, &record); err != nil {
		return nil, fmt.Errorf("decode backup record: %w", err)
	}
	return &record, nil
}

// ListBackups returns the caller's backups, newest first.
func (c *Client) ListBackups(ctx context.Context) ([]model.BackupRecord, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/backups", nil)
	if err != nil {
		return nil, err
	}
	records := []model.BackupRecord{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return nil, fmt.Errorf("decode backup list: %w", err)
		}
	}
	return records, nil
}

// Latest returns the most recent backup of any type, or nil when there are none.
func (c *Client) Latest(ctx context.Context) (*model.BackupRecord, error) {
	return c.latest(ctx, "")
}

// LatestAuto returns the most recent AUTO backup, or nil when there are none.
func (c *Client) LatestAuto(ctx context.Context) (*model.BackupRecord, error) {
	return c.latest(ctx, model.BackupTypeAuto)
}

// latest picks the newest record of typ, or of any type when typ is empty.
// Ids break ties between records created in the same millisecond.
func (c *Client) latest(ctx context.Context, typ model.BackupType) (*model.BackupRecord, error) {
	records, err := c.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	var latest *model.BackupRecord
	for i := range records {
		r := &records[i]
		if typ != "" && r.Type != typ {
			continue
		}
		if latest == nil || r.CreatedAt > latest.CreatedAt || (r.CreatedAt == latest.CreatedAt && r.ID > latest.ID) {
			latest = r
		}
	}
	return latest, nil
}

// RestoreBackup fetches the stored payload of backupID.
func (c *Client) RestoreBackup(ctx context.Context, backupID int64) ([]byte, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/backup/restore", map[string]any{"backupId": backupID})
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: empty backup content", ErrNotFound)
	}
	return env.Data, nil
}

// DeleteBackup removes backupID.
func (c *Client) DeleteBackup(ctx context.Context, backupID int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/backup/"+strconv.FormatInt(backupID, 10), nil)
	return err
}

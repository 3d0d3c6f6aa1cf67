package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/navsync/internal/handler"
	"github.com/dukerupert/navsync/internal/middleware"
	ws "github.com/dukerupert/navsync/internal/websocket"
)

// Config holds the HTTP-layer knobs.
type Config struct {
	OriginPatterns  []string
	MaxPayloadBytes int64
	// CreateLimit is the number of backup creates a user may issue per
	// CreateWindow. Zero disables the limit.
	CreateLimit  int
	CreateWindow time.Duration
}

type Server struct {
	db          handler.Pinger
	hub         *ws.Hub
	backupH     *handler.BackupHandler
	verifier    middleware.TokenVerifier
	rateLimiter *middleware.RateLimiter
	gatherer    prometheus.Gatherer
	cfg         Config
	logger      *slog.Logger
}

func New(db handler.Pinger, svc handler.BackupService, hub *ws.Hub, verifier middleware.TokenVerifier, gatherer prometheus.Gatherer, cfg Config, logger *slog.Logger) *Server {
	if cfg.CreateWindow <= 0 {
		cfg.CreateWindow = time.Minute
	}
	return &Server{
		db:          db,
		hub:         hub,
		backupH:     handler.NewBackupHandler(svc, cfg.MaxPayloadBytes, logger.With("component", "backup_handler")),
		verifier:    verifier,
		rateLimiter: middleware.NewRateLimiter(),
		gatherer:    gatherer,
		cfg:         cfg,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", handler.Health(s.db, s.hub.ClientCount))
	if s.gatherer != nil {
		outerMux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.verifier)
	outerMux.Handle("/", authMiddleware(middleware.CaptureUser(protectedMux)))

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
	return middleware.RequestID(logged)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.CreateLimit <= 0 {
		return h
	}
	rl := middleware.RateLimit(s.rateLimiter, middleware.UserKey, s.cfg.CreateLimit, s.cfg.CreateWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backup", s.rateLimitedHandler(s.backupH.Create))
	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.HandleFunc("POST /api/backup/restore", s.backupH.Restore)
	mux.HandleFunc("DELETE /api/backup/{id}", s.backupH.Delete)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.cfg.OriginPatterns, s.logger.With("component", "websocket")))
}

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"archive-sync-service/internal/classify"
	"archive-sync-service/internal/config"
	"archive-sync-service/internal/logger"
	"archive-sync-service/internal/store"
	"archive-sync-service/internal/sync"
)

// SyncService is the part of sync.Manager the HTTP layer drives.
type SyncService interface {
	IsRunning() bool
	EnqueueTenantSync(ctx context.Context, tenantID string, opts sync.SyncOptions) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*sync.JobStatusView, error)
	CancelJob(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID string) (string, error)
	ListProgress(ctx context.Context, tenantID string) ([]*store.SyncProgress, error)
}

var _ SyncService = (*sync.Manager)(nil)

type Handler struct {
	syncManager SyncService
	cfg         config.ServerConfig
}

func NewHandler(manager SyncService, cfg config.ServerConfig) *Handler {
	return &Handler{
		syncManager: manager,
		cfg:         cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/tenants/{tenantID}/sync", h.TriggerSync)
		r.Get("/tenants/{tenantID}/progress", h.GetProgress)
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Post("/jobs/{jobID}/cancel", h.CancelJob)
		r.Post("/jobs/{jobID}/retry", h.RetryJob)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.syncManager.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var opts sync.SyncOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	switch opts.SyncType {
	case "", store.SyncFull, store.SyncIncremental:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported syncType %q", opts.SyncType))
		return
	}

	jobID, err := h.syncManager.EnqueueTenantSync(r.Context(), chi.URLParam(r, "tenantID"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.syncManager.GetJobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.CancelJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.syncManager.RetryJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.syncManager.ListProgress(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if progress == nil {
		progress = []*store.SyncProgress{}
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sync.ErrInvalidRetry), errors.Is(err, store.ErrJobTerminal):
		return http.StatusConflict
	case errors.Is(err, classify.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sync.ErrNotRunning), errors.Is(err, sync.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// RequestLogger logs one line per request through the service logger.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (h *Handler) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-Id")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin(origin string) string {
	if len(h.cfg.CorsOrigins) == 0 {
		return "*"
	}
	for _, o := range h.cfg.CorsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// AuthMiddleware requires "Authorization: Bearer <server.auth_token>" when a
// token is configured.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

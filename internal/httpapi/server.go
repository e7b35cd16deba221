// Package httpapi exposes the local REST surface of the app.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/creelapp/creel/internal/connectivity"
	"github.com/creelapp/creel/internal/db"
	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/export"
	"github.com/creelapp/creel/internal/media"
	"github.com/creelapp/creel/internal/queue"
	syncpkg "github.com/creelapp/creel/internal/sync"
	"github.com/creelapp/creel/internal/ws"
)

// Server bundles the handlers and their dependencies.
type Server struct {
	repo   *db.Repository
	queue  *queue.Service
	engine *syncpkg.Engine
	signal *connectivity.Signal
	photos *media.Store
	export *export.Service
	hub    *ws.Hub
}

// New creates a Server. The hub may be nil when WebSocket support is off.
func New(repo *db.Repository, q *queue.Service, engine *syncpkg.Engine, signal *connectivity.Signal, photos *media.Store, exportSvc *export.Service, hub *ws.Hub) *Server {
	return &Server{
		repo:   repo,
		queue:  q,
		engine: engine,
		signal: signal,
		photos: photos,
		export: exportSvc,
		hub:    hub,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/catches", func(r chi.Router) {
			r.Get("/", s.handleListCatches)
			r.Post("/", s.handleCreateCatch)
			r.Get("/{id}", s.handleGetCatch)
			r.Patch("/{id}", s.handleUpdateCatch)
			r.Delete("/{id}", s.handleDeleteCatch)
			r.Post("/{id}/photo", s.handleUploadPhoto)
		})

		r.Get("/photos/*", s.handleGetPhoto)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.handleSyncStatus)
			r.Post("/now", s.handleSyncNow)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/failed", s.handleListFailed)
			r.Post("/failed/retry", s.handleRetryFailed)
			r.Delete("/{id}", s.handlePurgeItem)
		})

		r.Post("/export", s.handleExport)
		r.Post("/connectivity", s.handleSetConnectivity)
	})

	if s.hub != nil {
		r.Get("/ws", ws.Handler(s.hub))
	}

	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps an application error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrValidation, apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrQueueItemNotFound:
		status = http.StatusNotFound
	case apperrors.ErrQueueFull:
		status = http.StatusTooManyRequests
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrSyncOffline:
		status = http.StatusServiceUnavailable
	case apperrors.ErrMediaUnsupported:
		status = http.StatusUnsupportedMediaType
	case apperrors.ErrStorageQuota:
		status = http.StatusInsufficientStorage
	}

	message := ""
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else if err != nil {
		message = err.Error()
	}

	writeJSON(w, status, errorResponse{Error: string(code), Message: message})
}

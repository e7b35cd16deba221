package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/creelapp/creel/internal/db"
	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/models"
	"github.com/creelapp/creel/internal/uuid"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.signal.IsOnline(),
	})
}

// =====================================================
// Catches
//
// Reads hit the record store directly. Writes never touch it: every
// mutation goes through the queue and is acknowledged with 202, whether
// the device is online or not.
// =====================================================

func (s *Server) handleListCatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fb := db.NewFilterBuilder()
	if species := q.Get("species"); species != "" {
		fb.Species(species)
	}
	if location := q.Get("location"); location != "" {
		fb.Location(location)
	}
	from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
	to, _ := strconv.ParseInt(q.Get("to"), 10, 64)
	if from > 0 || to > 0 {
		fb.CaughtRange(from, to)
	}

	limit := 50
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}

	catches, err := s.repo.ListCatches(fb, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if catches == nil {
		catches = []*models.Catch{}
	}
	writeJSON(w, http.StatusOK, catches)
}

func (s *Server) handleGetCatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	catch, err := s.repo.GetCatch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catch)
}

// enqueueResponse acknowledges an accepted mutation.
type enqueueResponse struct {
	ItemID    string `json:"item_id"`
	RecordID  string `json:"record_id,omitempty"`
	Status    string `json:"status"`
	QueuedAt  int64  `json:"queued_at"`
	Operation string `json:"operation"`
}

func (s *Server) handleCreateCatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "failed to read request body", err))
		return
	}

	item, err := s.queue.Enqueue(r.Context(), models.OperationCreate, "catches", body)
	if err != nil {
		writeError(w, err)
		return
	}

	recordID, _ := payloadID(item.Data)
	writeJSON(w, http.StatusAccepted, enqueueResponse{
		ItemID:    item.ID.String(),
		RecordID:  recordID,
		Status:    string(item.Status),
		QueuedAt:  item.CreatedAt,
		Operation: string(item.OperationType),
	})
}

func (s *Server) handleUpdateCatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid catch id", err))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "failed to read request body", err))
		return
	}

	patch, err := withID(body, id)
	if err != nil {
		writeError(w, err)
		return
	}

	item, err := s.queue.Enqueue(r.Context(), models.OperationUpdate, "catches", patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		ItemID:    item.ID.String(),
		RecordID:  id,
		Status:    string(item.Status),
		QueuedAt:  item.CreatedAt,
		Operation: string(item.OperationType),
	})
}

func (s *Server) handleDeleteCatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid catch id", err))
		return
	}

	payload := json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
	item, err := s.queue.Enqueue(r.Context(), models.OperationDelete, "catches", payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		ItemID:    item.ID.String(),
		RecordID:  id,
		Status:    string(item.Status),
		QueuedAt:  item.CreatedAt,
		Operation: string(item.OperationType),
	})
}

// =====================================================
// Photos
// =====================================================

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid catch id", err))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid multipart form", err))
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "photo field is required", err))
		return
	}
	defer file.Close()

	photo, err := s.photos.Save(file)
	if err != nil {
		writeError(w, err)
		return
	}

	// The file is on disk already; linking it to the record is a mutation
	// like any other and rides the queue.
	patch := json.RawMessage(fmt.Sprintf(`{"id":%q,"photo_path":%q}`, id, photo.Path))
	item, err := s.queue.Enqueue(r.Context(), models.OperationUpdate, "catches", patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"item_id": item.ID.String(),
		"photo":   photo,
	})
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	relPath := path.Join("photos", chi.URLParam(r, "*"))
	f, err := s.photos.Open(relPath)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to stat photo", err))
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// =====================================================
// Sync
// =====================================================

type syncStatusResponse struct {
	PendingCount int    `json:"pending_count"`
	SyncedCount  int64  `json:"synced_count"`
	IsOnline     bool   `json:"is_online"`
	IsSyncing    bool   `json:"is_syncing"`
	LastSync     *int64 `json:"last_sync,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := syncStatusResponse{
		PendingCount: status.PendingCount,
		SyncedCount:  status.SyncedCount,
		IsOnline:     s.signal.IsOnline(),
		IsSyncing:    s.engine.IsSyncing(),
	}
	if last := s.engine.LastSync(); !last.IsZero() {
		ts := last.Unix()
		resp.LastSync = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Drain(r.Context())
	if err != nil {
		if result == nil || apperrors.Is(err, apperrors.ErrSyncInProgress) || apperrors.Is(err, apperrors.ErrSyncOffline) {
			writeError(w, err)
			return
		}
		// The drain ran but stopped early. The partial result is still
		// useful to the caller.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"synced":    result.Synced,
			"remaining": result.Remaining,
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"synced":    result.Synced,
		"remaining": result.Remaining,
	})
}

// =====================================================
// Queue administration
// =====================================================

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	failed, err := s.queue.ListFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if failed == nil {
		failed = []*models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, failed)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RetryFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *Server) handlePurgeItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.Purge(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =====================================================
// Export and test controls
// =====================================================

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.export.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSetConnectivity forces the connectivity signal. The probe loop will
// override it on its next cycle; this exists for the UI's airplane-mode
// toggle and for tests.
func (s *Server) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "body must be {\"online\": bool}"))
		return
	}

	s.signal.Set(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *req.Online})
}

// payloadID pulls the record id out of a stored payload.
func payloadID(data json.RawMessage) (string, error) {
	var target struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return "", err
	}
	return target.ID, nil
}

// withID injects the path id into a patch body, rejecting a conflicting id.
func withID(body json.RawMessage, id string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "patch body is not a JSON object", err)
	}

	if raw, ok := fields["id"]; ok {
		var bodyID string
		if err := json.Unmarshal(raw, &bodyID); err != nil || bodyID != id {
			return nil, apperrors.New(apperrors.ErrValidation, "patch id does not match the URL")
		}
		return body, nil
	}

	fields["id"] = json.RawMessage(fmt.Sprintf("%q", id))
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode patch", err)
	}
	return merged, nil
}

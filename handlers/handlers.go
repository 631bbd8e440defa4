package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"collab-project/history"
	"collab-project/logger"
	"collab-project/models"
	"collab-project/registry"
	"collab-project/repository"
	"collab-project/timeline"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MaxBodyBytes caps the size of a JSON request body
const MaxBodyBytes = 100 << 10

// Handler contains the HTTP handlers for the history and versions API
type Handler struct {
	History   *history.Engine
	Documents repository.DocumentRepositoryInterface
	Live      *registry.Registry
}

// NewHandler creates and returns a new Handler instance
func NewHandler(e *history.Engine, docs repository.DocumentRepositoryInterface, live *registry.Registry) *Handler {
	return &Handler{History: e, Documents: docs, Live: live}
}

type documentView struct {
	Name string `json:"name"`
	Live bool   `json:"live"`
}

type checkpointView struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes: rejected navigation and bad
// input are 400, unknown snapshots 404, codec failures 500.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := http.StatusInternalServerError
	var navErr *timeline.NavigationError
	switch {
	case errors.As(err, &navErr), errors.Is(err, history.ErrInvalidSnapshotName):
		status = http.StatusBadRequest
	case errors.Is(err, history.ErrSnapshotNotFound):
		status = http.StatusNotFound
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, zap.Error(err))
	} else {
		log.Warn(msg, zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

// Status handles GET requests for the cursor position of a document
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.History.Status(mux.Vars(r)["document"]))
}

// Timeline handles GET requests listing the checkpoints of a document
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	cps, status := h.History.Checkpoints(mux.Vars(r)["document"])
	views := make([]checkpointView, 0, len(cps))
	for _, cp := range cps {
		views = append(views, checkpointView{ID: cp.ID, Timestamp: cp.Timestamp})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"checkpoints": views,
	})
}

// Back handles POST requests moving a document one checkpoint back
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	idx, err := h.History.Back(mux.Vars(r)["document"])
	if err != nil {
		writeError(w, r, "Failed to go back", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"currentIndex": idx})
}

// Forward handles POST requests moving a document one checkpoint forward
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	idx, err := h.History.Forward(mux.Vars(r)["document"])
	if err != nil {
		writeError(w, r, "Failed to go forward", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"currentIndex": idx})
}

// Commit handles POST requests discarding the redo history of a document
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	status, err := h.History.Commit(mux.Vars(r)["document"])
	if err != nil {
		writeError(w, r, "Failed to commit", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListVersions handles GET requests for the named snapshots of a document
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.NamedSnapshot{
		"versions": h.History.ListSnapshots(mux.Vars(r)["document"]),
	})
}

// CreateVersion handles POST requests storing a named snapshot
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.FromContext(r.Context()).Warn("Failed to decode snapshot request", zap.Error(err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request payload",
		})
		return
	}

	snap, err := h.History.CreateSnapshot(mux.Vars(r)["document"], body.Name)
	if err != nil {
		writeError(w, r, "Failed to create snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Snapshot created successfully",
		"version": snap,
	})
}

// ApplyVersion handles POST requests restoring a named snapshot
func (h *Handler) ApplyVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idx, err := h.History.RestoreSnapshot(vars["document"], vars["versionId"])
	if err != nil {
		writeError(w, r, "Failed to apply snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"currentIndex": idx})
}

// ClearVersions handles DELETE requests dropping all history of a document
func (h *Handler) ClearVersions(w http.ResponseWriter, r *http.Request) {
	h.History.ClearHistory(mux.Vars(r)["document"])
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "History cleared",
	})
}

// ListDocuments handles GET requests for the stored documents, flagging the
// ones currently held in memory
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	names, err := h.Documents.ListDocuments()
	if err != nil {
		writeError(w, r, "Failed to list documents", err)
		return
	}
	views := make([]documentView, 0, len(names))
	for _, name := range names {
		_, live := h.Live.Lookup(name)
		views = append(views, documentView{Name: name, Live: live})
	}
	writeJSON(w, http.StatusOK, map[string][]documentView{"documents": views})
}

// HealthCheck reports whether the server can still reach its document store
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.Documents.Ping(); err != nil {
		logger.FromContext(r.Context()).Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "Not OK"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

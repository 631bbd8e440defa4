package routers

import (
	"net/http"

	"collab-project/collab"
	"collab-project/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up the middleware chain and the history API routes
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {
	r.Use(RequestID, AccessLog, Recover)

	r.HandleFunc("/health-check", h.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Cursor-based checkpoint timeline
	api.HandleFunc("/history/{document}", h.Timeline).Methods("GET")
	api.HandleFunc("/history/{document}/status", h.Status).Methods("GET")
	api.HandleFunc("/history/{document}/back", h.Back).Methods("POST")
	api.HandleFunc("/history/{document}/forward", h.Forward).Methods("POST")
	api.HandleFunc("/history/{document}/commit", h.Commit).Methods("POST")

	// Stored documents
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")

	// User-named snapshots kept beside the timeline
	api.HandleFunc("/versions/{document}", h.ListVersions).Methods("GET")
	api.HandleFunc("/versions/{document}", h.ClearVersions).Methods("DELETE")
	api.HandleFunc("/versions/{document}/snapshot", h.CreateVersion).Methods("POST")
	api.HandleFunc("/versions/{document}/{versionId}/apply", h.ApplyVersion).Methods("POST")
}

// RegisterCollab mounts the websocket sync endpoint
func RegisterCollab(r *mux.Router, hub *collab.Hub) {
	r.HandleFunc("/collab/{document}", hub.HandleWebSocket).Methods("GET")
}

// RegisterMetrics mounts the Prometheus scrape endpoint
func RegisterMetrics(r *mux.Router, metrics http.Handler) {
	r.Handle("/metrics", metrics).Methods("GET")
}

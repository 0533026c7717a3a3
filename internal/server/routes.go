package server

import (
	"log/slog"
	"net/http"
)

// NewHandler builds the API handler with routes and middleware. Exported for
// tests and for embedding in other servers.
func NewHandler(jobs JobService, sub Subscriber, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		jobs:      jobs,
		sub:       sub,
		maxUpload: DefaultMaxUpload,
		logger:    logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /api/v1/jobs", h.submitJob)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.deleteJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", h.jobEvents)

	// recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(logger)(handler)
	handler = requestID(handler)
	handler = recovery(logger)(handler)

	return handler
}

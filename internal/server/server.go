// Package server exposes job submission, status and the progress stream over
// HTTP.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates a server. Request contexts derive from baseCtx so cancelling it
// ends open status streams during shutdown.
func New(baseCtx context.Context, addr string, jobs JobService, sub Subscriber, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: NewHandler(jobs, sub, logger),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}

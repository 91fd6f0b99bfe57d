package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"samay/internal/config"
	"samay/internal/logger"
)

type Server struct {
	cfg  config.ServerConfig
	http *http.Server
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      NewRouter(cfg, deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	logger.GetLogger().Infof("HTTP server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

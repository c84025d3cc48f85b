package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"chaosmonkey/internal/api"
	"chaosmonkey/internal/config"
	"chaosmonkey/internal/logging"
)

// AdminServer serves the operator API over HTTP
type AdminServer struct {
	config   config.AdminConfig
	handler  *api.AdminHandler
	logger   *logging.Logger
	server   *http.Server
	listener net.Listener
}

func NewAdminServer(cfg config.AdminConfig, handler *api.AdminHandler, logger *logging.Logger) *AdminServer {
	return &AdminServer{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *AdminServer) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.handler.SetupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return nil
}

// Serve blocks until Stop is called
func (s *AdminServer) Serve() error {
	if s.server == nil {
		return errors.New("admin server not listening")
	}
	s.logger.Info("Starting admin server",
		"address", s.listener.Addr().String(),
		"service", "admin",
	)
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *AdminServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the admin server gracefully
func (s *AdminServer) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping admin server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

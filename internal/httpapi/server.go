package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"dynamic-load-balancer/internal/config"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type Server struct {
	logger *logrus.Logger
	server *http.Server
}

func NewServer(cfg *config.Config, ctrl Controller, gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	router := NewRouter(ctrl, gatherer, logger)
	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:    addr,
			Handler: handlers.LoggingHandler(logger.WriterLevel(logrus.DebugLevel), router),
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting HTTP API on %s", s.server.Addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP API...")
		s.server.Close()
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http api failed: %w", err)
	}
	return nil
}

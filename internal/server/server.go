package server

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Server defines fields used in HTTP processing of the review console
type Server struct {
	logger        *zap.Logger
	httpServer    *http.Server
	afterShutdown func() error
}

// NewServer constructs a Server listening on addr. While a batch is processing
// the console page reloads itself every refresh.
func NewServer(logger *zap.Logger, addr string, coordinator batchCoordinator, viewer databaseViewer, refresh time.Duration) (*Server, error) {
	if logger == nil {
		return nil, errors.New("no logger provided")
	}

	if coordinator == nil || viewer == nil {
		return nil, errors.New("no coordinator or viewer provided")
	}

	h := handler{
		logger:      logger,
		coordinator: coordinator,
		viewer:      viewer,
		refresh:     refresh,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", http.HandlerFunc(h.handleIndex))
	mux.Handle("POST /upload", http.HandlerFunc(h.handleUpload))
	mux.Handle("GET /search", http.HandlerFunc(h.handleSearch))
	mux.Handle("POST /reset", http.HandlerFunc(h.handleReset))
	mux.Handle("GET /batches", http.HandlerFunc(h.handleBatchStatus))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		logger:     logger,
		httpServer: httpServer,
	}, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown on SIGINT, SIGTERM or ctx cancellation.
// The after shutdown hook runs even when the server fails to serve.
func (s *Server) Start(ctx context.Context) error {
	idleConnsClosed := make(chan struct{})
	serveFailed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigint)

		select {
		case <-sigint:
		case <-ctx.Done():
		case <-serveFailed:
		}

		s.logger.Info("shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Error("failed to shut down HTTP server", zap.Error(err))
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	var serveErr error
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		serveErr = fmt.Errorf("failed to serve HTTP: %w", err)
		close(serveFailed)
	}

	<-idleConnsClosed

	if s.afterShutdown == nil {
		return serveErr
	}
	return errors.Join(serveErr, s.afterShutdown())
}

// RegisterAfterShutdown registers provided function to be called after Server shutdown
func (s *Server) RegisterAfterShutdown(f func() error) {
	s.afterShutdown = f
}

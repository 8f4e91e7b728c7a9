// Package http runs the exchange service's HTTP server.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/uvaco/cardauth/internal/observability/logger"
)

const shutdownGrace = 10 * time.Second

// Server wraps http.Server with graceful shutdown.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// Generous write timeout: one exchange may spend up to two
			// upstream calls before answering.
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down", logger.String("addr", s.srv.Addr))
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return err
	}
	err := <-errCh
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server wraps the HTTP server hosting the control surface.
type Server struct {
	svr *http.Server
}

// NewServer returns a Server listening on all interfaces at port.
func NewServer(port int, h http.Handler) *Server {
	return &Server{
		svr: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
		},
	}
}

func (s *Server) Addr() string {
	return s.svr.Addr
}

// ListenAndServe serves until Shutdown is called. http.ErrServerClosed is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	err := s.svr.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts the server down, force-stopping it after 5
// seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.svr.Shutdown(ctx)
}

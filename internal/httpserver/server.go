// Package httpserver runs the optional admin HTTP endpoint of the load
// balancer.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const shutdownTimeout = 5 * time.Second

var ErrNotListening = errors.New("httpserver: not listening")

// Server serves the admin router on its own listener.
type Server struct {
	http   *http.Server
	logger *slog.Logger

	mutex    sync.Mutex
	listener net.Listener
}

// New validates addr and prepares the server. A nil logger discards.
func New(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if err := validation.Validate(addr, validation.Required, validation.By(validateAddress)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}, nil
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.listener = l
	s.mutex.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles requests until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.mutex.Lock()
	l := s.listener
	s.mutex.Unlock()
	if l == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Shutdown(context.Background()); err != nil {
			s.logger.Warn("Admin server shutdown", slog.String("error", err.Error()))
		}
	})
	defer stop()

	s.logger.Debug("Admin server serving", slog.String("address", l.Addr().String()))

	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting and waits up to five seconds for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.http.Shutdown(ctx)
}

func validateAddress(value interface{}) error {
	addr, _ := value.(string)

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if err := validation.Validate(port, validation.Required, is.Digit); err != nil {
		return validation.NewError("validation_invalid_port", "port must be a number between 0 and 65535")
	}
	if n, err := strconv.Atoi(port); err != nil || n > 65535 {
		return validation.NewError("validation_invalid_port", "port must be a number between 0 and 65535")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

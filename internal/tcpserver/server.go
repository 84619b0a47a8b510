// Package tcpserver accepts client connections for the load balancer and
// runs each one on its own goroutine.
package tcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/sync/semaphore"
)

var ErrNotListening = errors.New("tcpserver: not listening")

// ConnHandler serves one accepted connection and closes it when done.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// Server owns the listening socket. Connections are unbounded unless
// maxConnections is positive, in which case accepting pauses while that
// many connections are in flight.
type Server struct {
	addr    string
	handler ConnHandler
	logger  *slog.Logger
	limit   *semaphore.Weighted

	mutex    sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	connCtx    context.Context
	cancelConn context.CancelFunc

	wg           sync.WaitGroup
	active       atomic.Int64
	closing      atomic.Bool
	shutdownOnce sync.Once
}

// New creates a server for addr. The address is validated before anything
// is bound.
func New(addr string, handler ConnHandler, logger *slog.Logger, maxConnections int64) (*Server, error) {
	if err := validateHost(addr); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		addr:       addr,
		handler:    handler,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
		connCtx:    connCtx,
		cancelConn: cancel,
	}
	if maxConnections > 0 {
		srv.limit = semaphore.NewWeighted(maxConnections)
	}

	return srv, nil
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.listener = l
	s.mutex.Unlock()

	s.logger.Info("Listening", slog.String("address", l.Addr().String()))
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

// Start binds and serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop on a socket bound by Listen. It returns nil
// once the listener is closed by Shutdown or by ctx.
func (s *Server) Serve(ctx context.Context) error {
	s.mutex.Lock()
	l := s.listener
	s.mutex.Unlock()
	if l == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, s.closeListener)
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("Accept failed", slog.Any("err", err))
			continue
		}

		if s.limit != nil {
			if err := s.limit.Acquire(ctx, 1); err != nil {
				_ = conn.Close()
				return nil
			}
		}

		if !s.track(conn) {
			_ = conn.Close()
			if s.limit != nil {
				s.limit.Release(1)
			}
			return nil
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	if s.limit != nil {
		defer s.limit.Release(1)
	}

	s.handler.ServeConn(s.connCtx, conn)
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Shutdown stops accepting and waits for in-flight connections to finish.
// When ctx expires first, remaining connections are closed and ctx's error
// is returned. Calling Shutdown more than once is safe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.closeListener)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancelConn()
		s.mutex.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mutex.Unlock()
		return ctx.Err()
	}
}

func (s *Server) closeListener() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closing.Store(true)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// track registers conn unless the server is closing. The WaitGroup is only
// incremented under the mutex so it never races with Shutdown's Wait.
func (s *Server) track(conn net.Conn) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.active.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mutex.Lock()
	delete(s.conns, conn)
	s.mutex.Unlock()
	s.active.Add(-1)
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

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

// Package testbackend runs an in-process storage backend that speaks the
// wire protocol. Tests use it in place of a real storage server.
package testbackend

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/protocol"
)

type Server struct {
	listener net.Listener
	wg       sync.WaitGroup

	mutex sync.Mutex
	files map[string][]byte
	conns map[net.Conn]struct{}

	healthy  atomic.Bool
	silent   atomic.Bool
	requests atomic.Int64
	probes   atomic.Int64
}

// Start listens on an ephemeral loopback port and serves until Close.
func Start() (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: l,
		files:    make(map[string][]byte),
		conns:    make(map[net.Conn]struct{}),
	}
	s.healthy.Store(true)

	s.wg.Add(1)
	go s.serve()

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Backend describes the server as a pool member with the given id.
func (s *Server) Backend(id int) *backend.Backend {
	return backend.New(id, "127.0.0.1", s.Port())
}

// SetHealthy controls whether HEALTH is answered with HEALTH_OK.
func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// SetSilent makes the server accept connections and never reply.
func (s *Server) SetSilent(silent bool) {
	s.silent.Store(silent)
}

func (s *Server) Store(name string, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.files[name] = append([]byte(nil), data...)
}

func (s *Server) File(name string) ([]byte, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Requests counts PUT and GET commands received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Probes counts HEALTH commands received.
func (s *Server) Probes() int64 {
	return s.probes.Load()
}

func (s *Server) Close() {
	_ = s.listener.Close()

	s.mutex.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mutex.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.mutex.Lock()
		s.conns[conn] = struct{}{}
		s.mutex.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		_ = conn.Close()
	}()

	r := protocol.NewReader(conn)
	line, err := r.ReadLine()
	if err != nil {
		return
	}

	if line == protocol.CmdHealth {
		s.probes.Add(1)
		if s.silent.Load() {
			_, _ = r.ReadLine()
			return
		}
		if s.healthy.Load() {
			_ = protocol.WriteLine(conn, protocol.StatusHealthOK)
		} else {
			_ = protocol.WriteError(conn, "Maintenance")
		}
		return
	}

	s.requests.Add(1)
	if s.silent.Load() {
		_, _ = r.ReadLine()
		return
	}

	req, err := protocol.ParseRequestLine(line)
	if err == nil && req.Type == protocol.RequestPut {
		err = r.ReadPutBody(req, 0)
	}
	if err != nil {
		_ = protocol.WriteError(conn, "Malformed request")
		return
	}

	switch req.Type {
	case protocol.RequestPut:
		s.Store(req.Filename, req.Payload)
		_ = protocol.WriteLine(conn, protocol.StatusOK)
	case protocol.RequestGet:
		data, ok := s.File(req.Filename)
		if !ok {
			_ = protocol.WriteError(conn, "File not found")
			return
		}
		_ = protocol.WriteLine(conn, protocol.StatusOK)
		_ = protocol.WriteLine(conn, protocol.FormatSize(int64(len(data))))
		_, _ = conn.Write(data)
	}
}

package backend

import (
	"net"
	"strconv"
	"time"
)

// Backend identifies one storage server of the pool. Its identity is fixed
// at load time; health and latency live in the Pool that owns it.
type Backend struct {
	id    int
	host  string
	port  int
	index int
}

// Status is a point-in-time copy of a backend's health record.
type Status struct {
	Backend             *Backend
	Healthy             bool
	AvgRTT              float64 // milliseconds
	ConsecutiveFailures int
	LastCheck           time.Time
}

// ID returns the configured backend id.
func (b *Backend) ID() int {
	return b.id
}

// Host returns the backend host or IP.
func (b *Backend) Host() string {
	return b.host
}

// Port returns the backend TCP port.
func (b *Backend) Port() int {
	return b.port
}

// Address returns the dialable host:port of the backend.
func (b *Backend) Address() string {
	return net.JoinHostPort(b.host, strconv.Itoa(b.port))
}

func (b *Backend) String() string {
	return "backend-" + strconv.Itoa(b.id) + "@" + b.Address()
}

// New creates a Backend with the given id and address.
func New(id int, host string, port int) *Backend {
	return &Backend{
		id:    id,
		host:  host,
		port:  port,
		index: -1,
	}
}

package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
)

// ErrUnknownAlgorithm is returned for algorithm names or types outside the
// supported set.
var ErrUnknownAlgorithm = errors.New("strategy: unknown algorithm")

// Strategy picks one backend from a pool snapshot. It returns nil only when
// the snapshot is empty and never mutates backend health.
type Strategy interface {
	SelectBackend(statuses []backend.Status) *backend.Backend
	Name() string
}

type Type int

const (
	RoundRobin Type = iota + 1
	LeastResponseTime
)

func (t Type) String() string {
	switch t {
	case RoundRobin:
		return "round-robin"
	case LeastResponseTime:
		return "least-response-time"
	default:
		return "unknown"
	}
}

// ParseType maps a user supplied algorithm name to a Type. Matching is case
// insensitive and accepts the short and long spellings.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rr", "roundrobin", "round_robin", "round-robin":
		return RoundRobin, nil
	case "lrt", "leastresponsetime", "least_response_time", "least-response-time", "least-response":
		return LeastResponseTime, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be rr or lrt)", ErrUnknownAlgorithm, name)
	}
}

// New creates a fresh strategy instance for t.
func New(t Type) (Strategy, error) {
	switch t {
	case RoundRobin:
		return NewRoundRobinStrategy(), nil
	case LeastResponseTime:
		return NewLeastResponseStrategy(), nil
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnknownAlgorithm, int(t))
	}
}

package backend

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// FailureThreshold is the number of consecutive failed probes that marks
	// a backend unhealthy.
	FailureThreshold = 3

	// RTTAlpha weights the newest RTT sample in the moving average.
	RTTAlpha = 0.3
)

var (
	ErrEmptyPool      = errors.New("backend: pool is empty")
	ErrDuplicateID    = errors.New("backend: duplicate backend id")
	ErrInvalidID      = errors.New("backend: backend id must be positive")
	ErrAlreadyPooled  = errors.New("backend: backend already belongs to a pool")
	ErrUnknownBackend = errors.New("backend: backend not in pool")
)

type health struct {
	healthy             bool
	avgRTT              float64
	consecutiveFailures int
	lastCheck           time.Time
}

// Pool is the fixed, ordered set of backends together with their health
// records. All health fields of every backend are guarded by one RWMutex:
// the health monitor writes under the write lock and selection reads a
// Snapshot under the read lock, so no reader observes a record mid-update.
type Pool struct {
	mutex    sync.RWMutex
	backends []*Backend
	health   []health
	now      func() time.Time
}

// NewPool builds a pool in the given order. Every backend starts healthy
// with no RTT samples.
func NewPool(backends []*Backend) (*Pool, error) {
	if len(backends) == 0 {
		return nil, ErrEmptyPool
	}

	seen := make(map[int]struct{}, len(backends))
	for _, b := range backends {
		if b.id <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidID, b.id)
		}
		if _, ok := seen[b.id]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, b.id)
		}
		if b.index >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyPooled, b)
		}
		seen[b.id] = struct{}{}
	}

	p := &Pool{
		backends: make([]*Backend, len(backends)),
		health:   make([]health, len(backends)),
		now:      time.Now,
	}

	for i, b := range backends {
		b.index = i
		p.backends[i] = b
		p.health[i] = health{healthy: true}
	}

	return p, nil
}

// Len returns the number of backends.
func (p *Pool) Len() int {
	return len(p.backends)
}

// Backends returns the backends in pool order.
func (p *Pool) Backends() []*Backend {
	out := make([]*Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// Snapshot copies every health record in pool order.
func (p *Pool) Snapshot() []Status {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	out := make([]Status, len(p.backends))
	for i, b := range p.backends {
		out[i] = p.statusLocked(b)
	}
	return out
}

// Status returns the current health record of b.
func (p *Pool) Status(b *Backend) (Status, error) {
	if err := p.owns(b); err != nil {
		return Status{}, err
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.statusLocked(b), nil
}

// RecordProbeSuccess resets the failure streak, marks b healthy and folds
// rttMs into the moving average. The first sample seeds the average.
// changed reports whether the healthy flag flipped.
func (p *Pool) RecordProbeSuccess(b *Backend, rttMs float64) (status Status, changed bool, err error) {
	if err := p.owns(b); err != nil {
		return Status{}, false, err
	}
	if rttMs < 0 {
		rttMs = 0
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	h := &p.health[b.index]
	changed = !h.healthy

	h.consecutiveFailures = 0
	h.healthy = true
	if h.avgRTT == 0.0 {
		h.avgRTT = rttMs
	} else {
		h.avgRTT = RTTAlpha*rttMs + (1-RTTAlpha)*h.avgRTT
	}
	h.lastCheck = p.now()

	return p.statusLocked(b), changed, nil
}

// RecordProbeFailure extends the failure streak and demotes b once the
// streak reaches FailureThreshold. The average RTT is left untouched.
func (p *Pool) RecordProbeFailure(b *Backend) (status Status, changed bool, err error) {
	if err := p.owns(b); err != nil {
		return Status{}, false, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	h := &p.health[b.index]
	h.consecutiveFailures++
	if h.consecutiveFailures >= FailureThreshold && h.healthy {
		h.healthy = false
		changed = true
	}
	h.lastCheck = p.now()

	return p.statusLocked(b), changed, nil
}

func (p *Pool) statusLocked(b *Backend) Status {
	h := p.health[b.index]
	return Status{
		Backend:             b,
		Healthy:             h.healthy,
		AvgRTT:              h.avgRTT,
		ConsecutiveFailures: h.consecutiveFailures,
		LastCheck:           h.lastCheck,
	}
}

func (p *Pool) owns(b *Backend) error {
	if b == nil || b.index < 0 || b.index >= len(p.backends) || p.backends[b.index] != b {
		return ErrUnknownBackend
	}
	return nil
}

package strategy

import (
	"sync"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
)

type roundRobinStrategy struct {
	mutex   sync.Mutex
	current int
}

// SelectBackend returns the first healthy backend at or after the cursor and
// moves the cursor past it. When every backend is unhealthy it returns the
// backend under the cursor anyway and advances by one.
func (rr *roundRobinStrategy) SelectBackend(statuses []backend.Status) *backend.Backend {
	n := len(statuses)
	if n == 0 {
		return nil
	}

	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	start := rr.current % n

	for attempts := 0; attempts < n; attempts++ {
		idx := (start + attempts) % n
		if statuses[idx].Healthy {
			rr.current = (idx + 1) % n
			return statuses[idx].Backend
		}
	}

	rr.current = (start + 1) % n
	return statuses[start].Backend
}

func (rr *roundRobinStrategy) Name() string {
	return "Round Robin"
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{
		current: 0,
	}
}

package strategy

import (
	"math"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
)

type leastResponseStrategy struct{}

// SelectBackend returns the healthy backend with the lowest RTT average.
// Ties go to the backend earlier in pool order; with no healthy backend the
// first one in pool order is returned.
func (l *leastResponseStrategy) SelectBackend(statuses []backend.Status) *backend.Backend {
	if len(statuses) == 0 {
		return nil
	}

	var chosen *backend.Backend
	best := math.MaxFloat64

	for _, s := range statuses {
		if s.Healthy && s.AvgRTT < best {
			best = s.AvgRTT
			chosen = s.Backend
		}
	}

	if chosen == nil {
		return statuses[0].Backend
	}

	return chosen
}

func (l *leastResponseStrategy) Name() string {
	return "Least Response Time"
}

func NewLeastResponseStrategy() Strategy {
	return &leastResponseStrategy{}
}

package loadbalancer

import (
	"errors"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/strategy"
)

// ErrNoBackend is returned when the strategy has nothing to choose from.
var ErrNoBackend = errors.New("loadbalancer: no backend available")

// LoadBalancer binds a selection strategy to the shared backend pool.
type LoadBalancer struct {
	pool     *backend.Pool
	strategy strategy.Strategy
}

func NewLoadBalancer(pool *backend.Pool, strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		pool:     pool,
		strategy: strategy,
	}
}

// Select takes a consistent snapshot of the pool and lets the strategy pick
// from it. Health is never filtered here: when every backend is down the
// strategy's fallback backend is returned.
func (lb *LoadBalancer) Select() (*backend.Backend, error) {
	if lb.pool == nil {
		return nil, ErrNoBackend
	}

	chosen := lb.strategy.SelectBackend(lb.pool.Snapshot())
	if chosen == nil {
		return nil, ErrNoBackend
	}

	return chosen, nil
}

func (lb *LoadBalancer) Pool() *backend.Pool {
	return lb.pool
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}

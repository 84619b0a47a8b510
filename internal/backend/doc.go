// Package backend models the storage servers behind the load balancer.
// A Backend carries the immutable identity loaded from configuration and the
// Pool owns the mutable health state (health flag, RTT moving average,
// failure streak, last probe time) behind a single lock.
package backend

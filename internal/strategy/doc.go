// Package strategy defines the backend selection interface and its two
// algorithms:
//
//   - Round Robin: rotates through the pool in order, skipping unhealthy backends
//   - Least Response Time: picks the healthy backend with the lowest probe RTT average
//
// Both fall back to a possibly unhealthy backend when the whole pool is down,
// so a non-empty pool always yields a backend.
package strategy

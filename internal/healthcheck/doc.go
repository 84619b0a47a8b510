// Package healthcheck implements the background health monitor. It probes
// every backend of the pool in order with a HEALTH/HEALTH_OK exchange,
// records the outcome and round trip time in the pool, appends a row to the
// health log and reports health transitions.
package healthcheck

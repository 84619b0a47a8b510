// Package handler implements the per-connection request relay. For each
// accepted client connection it parses one PUT or GET request, asks the
// load balancer for a backend, forwards the exchange and records how long
// it took.
package handler

// Package config loads the load balancer configuration from a JSON, YAML or
// TOML file and LB_ prefixed environment variables, applies defaults and
// validates the result. It accepts both a "backends" list and the flat
// server<N>_ip / server<N>_port keys.
package config

// Package csvlog writes the append-only CSV logs produced by the load
// balancer: one row per health probe and one row per forwarded request.
// Each file is truncated and given its header when opened, and every row is
// flushed as soon as it is written so the files can be tailed while the
// process runs.
package csvlog

// Package logger builds the application's structured logger on top of
// log/slog: text output in dev and staging, JSON in prod, with an optional
// size-rotated log file next to stdout.
package logger

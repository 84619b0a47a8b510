package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/csvlog"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
	"github.com/angeloszaimis/storage-balancer/internal/protocol"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 1000 * time.Millisecond
	DefaultSlice    = 100 * time.Millisecond
)

var ErrUnexpectedResponse = errors.New("healthcheck: unexpected probe response")

type Config struct {
	// Interval is the pause between two probe rounds.
	Interval time.Duration
	// Timeout bounds one probe from dial start to response.
	Timeout time.Duration
	// Slice is the granularity at which the pause checks for cancellation.
	Slice time.Duration
}

// Monitor probes the pool until its context is cancelled. One round takes
// up to Len(pool) * Timeout since backends are probed one after another.
type Monitor struct {
	pool      *backend.Pool
	config    Config
	healthLog *csvlog.HealthLog
	events    metrics.Emitter
	logger    *slog.Logger
}

// NewMonitor creates a monitor. healthLog and events may be nil. Zero
// durations in config fall back to the package defaults.
func NewMonitor(
	pool *backend.Pool,
	config Config,
	healthLog *csvlog.HealthLog,
	events metrics.Emitter,
	logger *slog.Logger,
) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Slice <= 0 {
		config.Slice = DefaultSlice
	}

	return &Monitor{
		pool:      pool,
		config:    config,
		healthLog: healthLog,
		events:    events,
		logger:    logger,
	}
}

// Run probes in rounds until ctx is cancelled. Probe failures are absorbed;
// Run only returns once ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Health monitor started",
		slog.Int("backends", m.pool.Len()),
		slog.Duration("interval", m.config.Interval),
		slog.Duration("timeout", m.config.Timeout))
	defer m.logger.Info("Health monitor stopped")

	for {
		m.RunRound(ctx)
		if !m.wait(ctx) {
			return nil
		}
	}
}

// RunRound probes every backend once in pool order.
func (m *Monitor) RunRound(ctx context.Context) {
	for _, b := range m.pool.Backends() {
		if ctx.Err() != nil {
			return
		}
		m.Check(ctx, b)
	}
}

// Check probes b once and records the outcome.
func (m *Monitor) Check(ctx context.Context, b *backend.Backend) backend.Status {
	rtt, probeErr := Probe(ctx, b, m.config.Timeout)
	now := time.Now()

	var (
		status  backend.Status
		changed bool
		err     error
	)
	if probeErr == nil {
		status, changed, err = m.pool.RecordProbeSuccess(b, rtt)
	} else {
		status, changed, err = m.pool.RecordProbeFailure(b)
	}
	if err != nil {
		m.logger.Error("Failed to record probe", slog.String("backend", b.String()), slog.Any("err", err))
		return status
	}

	if m.healthLog != nil {
		if err := m.healthLog.Record(now, b, rtt, probeErr == nil); err != nil {
			m.logger.Error("Failed to write health log", slog.Any("err", err))
		}
	}

	label := strconv.Itoa(b.ID())
	m.emit(metrics.MetricEvent{
		Type:      metrics.EventProbe,
		Timestamp: now,
		Backend:   label,
		Success:   probeErr == nil,
		RTT:       rtt,
	})

	if probeErr == nil {
		m.logger.Debug("Probe succeeded",
			slog.Int("backend_id", b.ID()),
			slog.Float64("rtt_ms", rtt),
			slog.Float64("avg_rtt_ms", status.AvgRTT))
	} else {
		m.logger.Debug("Probe failed",
			slog.Int("backend_id", b.ID()),
			slog.Int("consecutive_failures", status.ConsecutiveFailures),
			slog.Any("err", probeErr))
	}

	if changed {
		m.emit(metrics.MetricEvent{
			Type:      metrics.EventHealthChanged,
			Timestamp: now,
			Backend:   label,
			Healthy:   status.Healthy,
		})

		if status.Healthy {
			m.logger.Info("Backend is back up",
				slog.String("backend", b.String()),
				slog.Float64("rtt_ms", rtt))
		} else {
			m.logger.Warn("Backend is down",
				slog.String("backend", b.String()),
				slog.Int("consecutive_failures", status.ConsecutiveFailures))
		}
	}

	return status
}

// Probe dials b, sends HEALTH and expects HEALTH_OK, all within timeout.
// The returned RTT in milliseconds covers dial start to response receipt.
func Probe(ctx context.Context, b *backend.Backend, timeout time.Duration) (float64, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", b.Address())
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", b.Address(), err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	if err := protocol.WriteLine(conn, protocol.CmdHealth); err != nil {
		return 0, fmt.Errorf("send probe: %w", err)
	}

	line, err := protocol.NewReader(conn).ReadLine()
	if err != nil {
		return 0, fmt.Errorf("read probe response: %w", err)
	}
	rtt := float64(time.Since(start)) / float64(time.Millisecond)

	if line != protocol.StatusHealthOK {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}

	return rtt, nil
}

func (m *Monitor) emit(event metrics.MetricEvent) {
	if m.events != nil {
		m.events.Emit(event)
	}
}

// wait pauses for one interval in slices and reports whether ctx is still
// live afterwards.
func (m *Monitor) wait(ctx context.Context) bool {
	for waited := time.Duration(0); waited < m.config.Interval; waited += m.config.Slice {
		step := min(m.config.Slice, m.config.Interval-waited)

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	return ctx.Err() == nil
}

package csvlog

import (
	"io"
	"strconv"
	"time"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
)

const (
	StatusOK   = "OK"
	StatusFail = "FAIL"
)

var (
	HealthHeader  = []string{"timestamp_ms", "backend_id", "ip", "port", "rtt_ms", "status"}
	MetricsHeader = []string{"timestamp_ms", "request_type", "backend_selected", "response_time_ms"}
)

// HealthLog records one row per probe attempt.
type HealthLog struct {
	w *Writer
}

func OpenHealthLog(path string) (*HealthLog, error) {
	w, err := Create(path, HealthHeader)
	if err != nil {
		return nil, err
	}
	return &HealthLog{w: w}, nil
}

func NewHealthLog(dst io.Writer) (*HealthLog, error) {
	w, err := NewWriter(dst, HealthHeader)
	if err != nil {
		return nil, err
	}
	return &HealthLog{w: w}, nil
}

// Record writes a probe outcome. rttMs is logged as -1 for failed probes.
func (l *HealthLog) Record(at time.Time, b *backend.Backend, rttMs float64, ok bool) error {
	rtt, status := "-1", StatusFail
	if ok {
		rtt, status = formatMillis(rttMs), StatusOK
	}

	return l.w.Write([]string{
		strconv.FormatInt(at.UnixMilli(), 10),
		strconv.Itoa(b.ID()),
		b.Host(),
		strconv.Itoa(b.Port()),
		rtt,
		status,
	})
}

func (l *HealthLog) Close() error {
	return l.w.Close()
}

// MetricsLog records one row per forwarded request.
type MetricsLog struct {
	w *Writer
}

func OpenMetricsLog(path string) (*MetricsLog, error) {
	w, err := Create(path, MetricsHeader)
	if err != nil {
		return nil, err
	}
	return &MetricsLog{w: w}, nil
}

func NewMetricsLog(dst io.Writer) (*MetricsLog, error) {
	w, err := NewWriter(dst, MetricsHeader)
	if err != nil {
		return nil, err
	}
	return &MetricsLog{w: w}, nil
}

func (l *MetricsLog) Record(at time.Time, requestType string, backendID int, elapsed time.Duration) error {
	return l.w.Write([]string{
		strconv.FormatInt(at.UnixMilli(), 10),
		requestType,
		strconv.Itoa(backendID),
		formatMillis(float64(elapsed) / float64(time.Millisecond)),
	})
}

func (l *MetricsLog) Close() error {
	return l.w.Close()
}

func formatMillis(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 3, 64)
}

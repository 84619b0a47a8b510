package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/angeloszaimis/storage-balancer/internal/csvlog"
	"github.com/angeloszaimis/storage-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
	"github.com/angeloszaimis/storage-balancer/internal/protocol"
)

const (
	MsgMalformedRequest   = "Malformed request"
	MsgNoBackend          = "No backend available"
	MsgBackendUnavailable = "Backend unavailable"

	DefaultDialTimeout = 5 * time.Second
)

var ErrBackendRefused = errors.New("handler: backend refused request")

type Config struct {
	DialTimeout time.Duration
	// IOTimeout bounds the whole exchange on both sockets. Zero disables it.
	IOTimeout   time.Duration
	MaxFileSize int64
}

// RequestHandler relays one request per connection. Relay outcomes never
// feed back into backend health.
type RequestHandler struct {
	logger     *slog.Logger
	balancer   *loadbalancer.LoadBalancer
	metricsLog *csvlog.MetricsLog
	events     metrics.Emitter
	config     Config
}

// NewRequestHandler creates a relay. metricsLog and events may be nil.
func NewRequestHandler(
	logger *slog.Logger,
	lb *loadbalancer.LoadBalancer,
	metricsLog *csvlog.MetricsLog,
	events metrics.Emitter,
	config Config,
) *RequestHandler {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = protocol.DefaultMaxPayload
	}

	return &RequestHandler{
		logger:     logger,
		balancer:   lb,
		metricsLog: metricsLog,
		events:     events,
		config:     config,
	}
}

// ServeConn runs the relay for one client connection and closes it.
func (h *RequestHandler) ServeConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	start := time.Now()
	clientAddr := client.RemoteAddr().String()

	if h.config.IOTimeout > 0 {
		_ = client.SetDeadline(start.Add(h.config.IOTimeout))
	}

	req, err := protocol.NewReader(client).ReadRequest(h.config.MaxFileSize)
	if err != nil {
		h.logger.Warn("Malformed request",
			slog.String("client", clientAddr),
			slog.Any("err", err))
		_ = protocol.WriteError(client, MsgMalformedRequest)
		return
	}

	h.logger.Info("Received request",
		slog.String("client", clientAddr),
		slog.String("type", req.Type.String()),
		slog.String("filename", req.Filename),
		slog.Int64("size", req.Size))

	selected, err := h.balancer.Select()
	if err != nil {
		h.logger.Warn("No backend available", slog.String("client", clientAddr))
		_ = protocol.WriteError(client, MsgNoBackend)
		return
	}

	label := strconv.Itoa(selected.ID())
	h.emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: label, RequestType: req.Type.String()})
	h.emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: label, RequestType: req.Type.String()})

	h.logger.Info("Forwarding to backend",
		slog.String("client", clientAddr),
		slog.String("backend", selected.String()),
		slog.String("strategy", h.balancer.LoadBalancerStrategy().Name()))

	dialer := net.Dialer{Timeout: h.config.DialTimeout}
	backendConn, err := dialer.DialContext(ctx, "tcp", selected.Address())
	if err != nil {
		h.logger.Warn("Backend unavailable",
			slog.String("backend", selected.String()),
			slog.Any("err", err))
		_ = protocol.WriteError(client, MsgBackendUnavailable)
		return
	}
	defer backendConn.Close()

	if h.config.IOTimeout > 0 {
		_ = backendConn.SetDeadline(start.Add(h.config.IOTimeout))
	}

	forwardErr := forward(req, client, backendConn)
	elapsed := time.Since(start)

	if h.metricsLog != nil {
		if err := h.metricsLog.Record(time.Now(), req.Type.String(), selected.ID(), elapsed); err != nil {
			h.logger.Error("Failed to write metrics log", slog.Any("err", err))
		}
	}

	h.emit(metrics.MetricEvent{
		Type:        metrics.EventResponseCompleted,
		Backend:     label,
		RequestType: req.Type.String(),
		Duration:    elapsed,
		Success:     forwardErr == nil,
	})

	if forwardErr != nil {
		h.logger.Warn("Request failed",
			slog.String("type", req.Type.String()),
			slog.String("filename", req.Filename),
			slog.String("backend", selected.String()),
			slog.Duration("took", elapsed),
			slog.Any("err", forwardErr))
		return
	}

	h.logger.Info("Request succeeded",
		slog.String("type", req.Type.String()),
		slog.String("filename", req.Filename),
		slog.String("backend", selected.String()),
		slog.Duration("took", elapsed))
}

// forward sends req to the backend and relays the backend's answer to the
// client. It stops at the first failure.
func forward(req *protocol.Request, client io.Writer, backendConn io.ReadWriter) error {
	if err := protocol.WriteRequest(backendConn, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	r := protocol.NewReader(backendConn)
	status, err := r.ReadLine()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := protocol.WriteLine(client, status); err != nil {
		return fmt.Errorf("relay response: %w", err)
	}

	if status != protocol.StatusOK {
		return fmt.Errorf("%w: %q", ErrBackendRefused, status)
	}
	if req.Type != protocol.RequestGet {
		return nil
	}

	n, err := r.ReadSize()
	if err != nil {
		return fmt.Errorf("read size: %w", err)
	}
	if err := protocol.WriteLine(client, protocol.FormatSize(n)); err != nil {
		return fmt.Errorf("relay size: %w", err)
	}

	if _, err := r.CopyPayload(client, n); err != nil {
		return fmt.Errorf("relay payload: %w", err)
	}

	return nil
}

func (h *RequestHandler) emit(event metrics.MetricEvent) {
	if h.events != nil {
		h.events.Emit(event)
	}
}

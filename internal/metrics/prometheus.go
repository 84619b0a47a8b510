package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storage_balancer"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Prometheus holds the exported series on a private registry so several
// collectors can coexist in one process.
type Prometheus struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendHealthy  *prometheus.GaugeVec
	backendRTT      *prometheus.GaugeVec
	probes          *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of forwarded client requests",
			},
			[]string{"type", "backend", "result"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from request parse to forward completion in seconds",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"type", "backend"},
		),
		backendHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_healthy",
				Help:      "Backend health as seen by the health monitor (1 healthy, 0 unhealthy)",
			},
			[]string{"backend"},
		),
		backendRTT: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_rtt_milliseconds",
				Help:      "Round trip time of the last successful health probe",
			},
			[]string{"backend"},
		),
		probes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of health probes",
			},
			[]string{"backend", "result"},
		),
	}
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) observeResponse(event MetricEvent) {
	p.requests.WithLabelValues(event.RequestType, event.Backend, result(event.Success)).Inc()
	p.requestDuration.WithLabelValues(event.RequestType, event.Backend).Observe(event.Duration.Seconds())
}

func (p *Prometheus) observeHealth(event MetricEvent) {
	v := 0.0
	if event.Healthy {
		v = 1
	}
	p.backendHealthy.WithLabelValues(event.Backend).Set(v)
}

func (p *Prometheus) observeProbe(event MetricEvent) {
	p.probes.WithLabelValues(event.Backend, result(event.Success)).Inc()
	if event.Success {
		p.backendRTT.WithLabelValues(event.Backend).Set(event.RTT)
		p.backendHealthy.WithLabelValues(event.Backend).Set(1)
	}
}

func result(success bool) string {
	if success {
		return resultSuccess
	}
	return resultFailure
}

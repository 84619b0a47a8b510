package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/httpserver"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
)

var _ = Describe("Router", func() {
	var (
		router    http.Handler
		pool      *backend.Pool
		collector *metrics.Collector
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		pool, err = backend.NewPool([]*backend.Backend{
			backend.New(1, "127.0.0.1", 9001),
			backend.New(2, "127.0.0.1", 9002),
		})
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(10, slog.New(slog.NewTextHandler(io.Discard, nil)))
		collector.Start(ctx)

		router = httpserver.NewRouter(collector, pool, "Least Response Time")
	})

	AfterEach(func() {
		cancel()
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("should list the pool with live health", func() {
		_, _, err := pool.RecordProbeSuccess(pool.Backends()[0], 12.5)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < backend.FailureThreshold; i++ {
			_, _, _ = pool.RecordProbeFailure(pool.Backends()[1])
		}

		rec := get("/backends")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var views []httpserver.BackendView
		Expect(json.Unmarshal(rec.Body.Bytes(), &views)).To(Succeed())
		Expect(views).To(HaveLen(2))
		Expect(views[0].ID).To(Equal(1))
		Expect(views[0].Healthy).To(BeTrue())
		Expect(views[0].AvgRTTMs).To(Equal(12.5))
		Expect(views[1].Healthy).To(BeFalse())
		Expect(views[1].ConsecutiveFailures).To(Equal(3))
	})

	It("should serve the collector snapshot", func() {
		rec := get("/stats")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var snap metrics.Snapshot
		Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
		Expect(snap.Algorithm).To(Equal("Least Response Time"))
	})

	It("should expose Prometheus metrics", func() {
		collector.Emit(metrics.MetricEvent{Type: metrics.EventProbe, Backend: "1", Success: true, RTT: 4})

		Eventually(func() string {
			return get("/metrics").Body.String()
		}).Should(ContainSubstring("storage_balancer_probes_total"))
	})

	It("should reject other methods", func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
	})
})

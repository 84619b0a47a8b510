package healthcheck_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/csvlog"
	"github.com/angeloszaimis/storage-balancer/internal/healthcheck"
	"github.com/angeloszaimis/storage-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
	"github.com/angeloszaimis/storage-balancer/internal/strategy"
	"github.com/angeloszaimis/storage-balancer/internal/testbackend"
)

type recordingSink struct {
	mutex  sync.Mutex
	events []metrics.MetricEvent
}

func (s *recordingSink) Emit(event metrics.MetricEvent) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, event)
	return true
}

func (s *recordingSink) ofType(t metrics.EventType) []metrics.MetricEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []metrics.MetricEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("Probe", func() {
	var server *testbackend.Server

	BeforeEach(func() {
		var err error
		server, err = testbackend.Start()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("should succeed against a healthy backend", func() {
		rtt, err := healthcheck.Probe(context.Background(), server.Backend(1), time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(rtt).To(BeNumerically(">", 0))
		Expect(rtt).To(BeNumerically("<", 1000))
		Expect(server.Probes()).To(Equal(int64(1)))
	})

	It("should fail on any response other than HEALTH_OK", func() {
		server.SetHealthy(false)
		_, err := healthcheck.Probe(context.Background(), server.Backend(1), time.Second)
		Expect(err).To(MatchError(healthcheck.ErrUnexpectedResponse))
	})

	It("should fail when nothing listens", func() {
		b := server.Backend(1)
		server.Close()

		_, err := healthcheck.Probe(context.Background(), b, time.Second)
		Expect(err).To(HaveOccurred())
	})

	It("should give up on a silent backend within the budget", func() {
		server.SetSilent(true)

		start := time.Now()
		_, err := healthcheck.Probe(context.Background(), server.Backend(1), 150*time.Millisecond)
		Expect(err).To(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})
})

var _ = Describe("Monitor", func() {
	var (
		servers []*testbackend.Server
		pool    *backend.Pool
		sink    *recordingSink
		logBuf  *bytes.Buffer
		monitor *healthcheck.Monitor
		logger  *slog.Logger
	)

	BeforeEach(func() {
		servers = make([]*testbackend.Server, 3)
		backends := make([]*backend.Backend, 3)
		for i := range servers {
			s, err := testbackend.Start()
			Expect(err).NotTo(HaveOccurred())
			servers[i] = s
			backends[i] = s.Backend(i + 1)
		}

		var err error
		pool, err = backend.NewPool(backends)
		Expect(err).NotTo(HaveOccurred())

		logBuf = &bytes.Buffer{}
		healthLog, err := csvlog.NewHealthLog(logBuf)
		Expect(err).NotTo(HaveOccurred())

		sink = &recordingSink{}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		monitor = healthcheck.NewMonitor(pool, healthcheck.Config{
			Interval: 50 * time.Millisecond,
			Timeout:  200 * time.Millisecond,
			Slice:    10 * time.Millisecond,
		}, healthLog, sink, logger)
	})

	AfterEach(func() {
		for _, s := range servers {
			s.Close()
		}
	})

	It("should probe every backend once per round in pool order", func() {
		monitor.RunRound(context.Background())

		rows, err := csv.NewReader(logBuf).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(4))
		Expect(rows[0]).To(Equal(csvlog.HealthHeader))
		for i, row := range rows[1:] {
			Expect(row[1]).To(Equal([]string{"1", "2", "3"}[i]))
			Expect(row[5]).To(Equal(csvlog.StatusOK))
		}

		for _, s := range pool.Snapshot() {
			Expect(s.Healthy).To(BeTrue())
			Expect(s.AvgRTT).To(BeNumerically(">", 0))
			Expect(s.LastCheck.IsZero()).To(BeFalse())
		}
		Expect(sink.ofType(metrics.EventProbe)).To(HaveLen(3))
	})

	It("should demote a backend after three failed rounds and route around it", func() {
		servers[2].SetHealthy(false)
		lb := loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy())
		b3 := pool.Backends()[2]

		monitor.RunRound(context.Background())
		monitor.RunRound(context.Background())
		status, err := pool.Status(b3)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Healthy).To(BeTrue())
		Expect(sink.ofType(metrics.EventHealthChanged)).To(BeEmpty())

		monitor.RunRound(context.Background())
		status, _ = pool.Status(b3)
		Expect(status.Healthy).To(BeFalse())
		Expect(status.ConsecutiveFailures).To(Equal(3))

		changes := sink.ofType(metrics.EventHealthChanged)
		Expect(changes).To(HaveLen(1))
		Expect(changes[0].Backend).To(Equal("3"))
		Expect(changes[0].Healthy).To(BeFalse())

		for i := 0; i < 6; i++ {
			selected, err := lb.Select()
			Expect(err).NotTo(HaveOccurred())
			Expect(selected.ID()).NotTo(Equal(3))
		}

		servers[2].SetHealthy(true)
		status = monitor.Check(context.Background(), b3)
		Expect(status.Healthy).To(BeTrue())
		Expect(status.ConsecutiveFailures).To(BeZero())
		Expect(sink.ofType(metrics.EventHealthChanged)).To(HaveLen(2))
	})

	It("should log failed probes with an RTT of -1", func() {
		servers[0].SetHealthy(false)
		monitor.Check(context.Background(), pool.Backends()[0])

		rows, err := csv.NewReader(logBuf).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows[1][4]).To(Equal("-1"))
		Expect(rows[1][5]).To(Equal(csvlog.StatusFail))
	})

	It("should keep probing until cancelled and stop within a slice", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- monitor.Run(ctx) }()

		Eventually(servers[0].Probes).Should(BeNumerically(">=", 2))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should not probe once the context is already cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		monitor.RunRound(ctx)
		Expect(servers[0].Probes()).To(BeZero())
	})

	It("should fall back to defaults for zero durations", func() {
		m := healthcheck.NewMonitor(pool, healthcheck.Config{}, nil, nil, logger)
		status := m.Check(context.Background(), pool.Backends()[1])
		Expect(status.Healthy).To(BeTrue())
	})
})

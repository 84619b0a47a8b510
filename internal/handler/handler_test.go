package handler_test

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/csvlog"
	"github.com/angeloszaimis/storage-balancer/internal/handler"
	"github.com/angeloszaimis/storage-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
	"github.com/angeloszaimis/storage-balancer/internal/protocol"
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

func (s *recordingSink) completed() []metrics.MetricEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []metrics.MetricEvent
	for _, e := range s.events {
		if e.Type == metrics.EventResponseCompleted {
			out = append(out, e)
		}
	}
	return out
}

// serve accepts connections on a loopback port and hands them to h.
func serve(h *handler.RequestHandler) (string, func()) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.ServeConn(context.Background(), conn)
			}()
		}
	}()

	return l.Addr().String(), func() {
		_ = l.Close()
		wg.Wait()
	}
}

func metricsRows(path string) func() [][]string {
	return func() [][]string {
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		rows, _ := csv.NewReader(f).ReadAll()
		return rows
	}
}

var _ = Describe("RequestHandler", func() {
	var (
		servers     []*testbackend.Server
		pool        *backend.Pool
		sink        *recordingSink
		metricsPath string
		metricsLog  *csvlog.MetricsLog
		logger      *slog.Logger
		config      handler.Config
		addr        string
		stop        func()
	)

	startBackends := func(n int) {
		servers = make([]*testbackend.Server, n)
		backends := make([]*backend.Backend, n)
		for i := range servers {
			s, err := testbackend.Start()
			Expect(err).NotTo(HaveOccurred())
			servers[i] = s
			backends[i] = s.Backend(i + 1)
		}

		var err error
		pool, err = backend.NewPool(backends)
		Expect(err).NotTo(HaveOccurred())
	}

	startRelay := func(lb *loadbalancer.LoadBalancer) {
		h := handler.NewRequestHandler(logger, lb, metricsLog, sink, config)
		addr, stop = serve(h)
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		sink = &recordingSink{}
		config = handler.Config{DialTimeout: time.Second}

		metricsPath = filepath.Join(GinkgoT().TempDir(), "lb_metrics.log")
		var err error
		metricsLog, err = csvlog.OpenMetricsLog(metricsPath)
		Expect(err).NotTo(HaveOccurred())

		servers = nil
		stop = nil
	})

	AfterEach(func() {
		if stop != nil {
			stop()
		}
		for _, s := range servers {
			s.Close()
		}
		Expect(metricsLog.Close()).To(Succeed())
	})

	Context("with healthy backends", func() {
		BeforeEach(func() {
			startBackends(2)
			startRelay(loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy()))
		})

		It("should store a PUT on the selected backend and relay OK", func() {
			payload := []byte("line one\nline two\r\n\x00\xff")
			resp, err := testbackend.Exchange(addr, &protocol.Request{
				Type:     protocol.RequestPut,
				Filename: "blob.bin",
				Payload:  payload,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(protocol.StatusOK))

			stored, ok := servers[0].File("blob.bin")
			Expect(ok).To(BeTrue())
			Expect(stored).To(Equal(payload))
			Expect(servers[1].Requests()).To(BeZero())
		})

		It("should stream a GET payload back to the client", func() {
			servers[0].Store("doc.txt", []byte("hello storage"))

			resp, err := testbackend.Exchange(addr, &protocol.Request{Type: protocol.RequestGet, Filename: "doc.txt"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(protocol.StatusOK))
			Expect(string(resp.Payload)).To(Equal("hello storage"))
		})

		It("should alternate backends and log one metrics row per forward", func() {
			for i := 0; i < 4; i++ {
				_, err := testbackend.Exchange(addr, &protocol.Request{
					Type:     protocol.RequestPut,
					Filename: "f",
					Payload:  []byte("x"),
				})
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(servers[0].Requests()).To(Equal(int64(2)))
			Expect(servers[1].Requests()).To(Equal(int64(2)))

			Eventually(metricsRows(metricsPath)).Should(HaveLen(5))
			rows := metricsRows(metricsPath)()
			Expect(rows[0]).To(Equal(csvlog.MetricsHeader))
			Expect([]string{rows[1][2], rows[2][2], rows[3][2], rows[4][2]}).To(ConsistOf("1", "2", "1", "2"))
			for _, row := range rows[1:] {
				Expect(row[1]).To(Equal("PUT"))
			}
		})

		It("should relay a backend error verbatim and count the request as failed", func() {
			resp, err := testbackend.Exchange(addr, &protocol.Request{Type: protocol.RequestGet, Filename: "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal("ERROR File not found"))

			Eventually(sink.completed).Should(HaveLen(1))
			Expect(sink.completed()[0].Success).To(BeFalse())
			Eventually(metricsRows(metricsPath)).Should(HaveLen(2))
		})

		It("should answer a malformed request without contacting any backend", func() {
			out, err := testbackend.SendRaw(addr, "HELLO world\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("ERROR Malformed request\n"))

			Expect(servers[0].Requests() + servers[1].Requests()).To(BeZero())
			Consistently(metricsRows(metricsPath), 100*time.Millisecond).Should(HaveLen(1))
			Expect(sink.completed()).To(BeEmpty())
		})

		It("should reject a PUT whose body is cut short", func() {
			out, err := testbackend.SendRaw(addr, "PUT a.txt\nSIZE 10\nabc")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("ERROR Malformed request\n"))
			Expect(servers[0].Requests()).To(BeZero())
		})
	})

	Context("with a payload limit", func() {
		BeforeEach(func() {
			startBackends(1)
			config.MaxFileSize = 4
			startRelay(loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy()))
		})

		It("should refuse payloads above the limit", func() {
			out, err := testbackend.SendRaw(addr, "PUT big\nSIZE 5\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("ERROR Malformed request\n"))
			Expect(servers[0].Requests()).To(BeZero())
		})
	})

	Context("when the selected backend is down", func() {
		BeforeEach(func() {
			startBackends(1)
			servers[0].Close()
			startRelay(loadbalancer.NewLoadBalancer(pool, strategy.NewLeastResponseStrategy()))
		})

		It("should report the backend as unavailable and log nothing", func() {
			resp, err := testbackend.Exchange(addr, &protocol.Request{Type: protocol.RequestGet, Filename: "a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal("ERROR Backend unavailable"))

			Consistently(metricsRows(metricsPath), 100*time.Millisecond).Should(HaveLen(1))
		})
	})

	Context("without a pool", func() {
		BeforeEach(func() {
			startRelay(loadbalancer.NewLoadBalancer(nil, strategy.NewRoundRobinStrategy()))
		})

		It("should report that no backend is available", func() {
			resp, err := testbackend.Exchange(addr, &protocol.Request{Type: protocol.RequestGet, Filename: "a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal("ERROR No backend available"))
		})
	})

	Context("with an I/O timeout", func() {
		BeforeEach(func() {
			startBackends(1)
			servers[0].SetSilent(true)
			config.IOTimeout = 200 * time.Millisecond
			startRelay(loadbalancer.NewLoadBalancer(pool, strategy.NewRoundRobinStrategy()))
		})

		It("should abandon a silent backend and still record the attempt", func() {
			start := time.Now()
			out, err := testbackend.SendRaw(addr, "GET slow.txt\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeEmpty())
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))

			Eventually(metricsRows(metricsPath)).Should(HaveLen(2))
			Eventually(sink.completed).Should(HaveLen(1))
			Expect(sink.completed()[0].Success).To(BeFalse())
		})
	})
})

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/storage-balancer/internal/protocol"
)

const (
	ModePut   = "put"
	ModeGet   = "get"
	ModeMixed = "mixed"
)

var resultHeader = []string{"idx", "timestamp_ms", "request_type", "file", "status", "duration_ms"}

// ResultWriter receives one row per finished request.
type ResultWriter interface {
	Write(record []string) error
}

type Config struct {
	Addr        string
	Concurrency int
	Requests    int
	Files       int
	Size        int
	Mode        string
	Timeout     time.Duration
	Results     ResultWriter
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required, is.DialString),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.Requests, validation.Required, validation.Min(1)),
		validation.Field(&c.Files, validation.Required, validation.Min(1)),
		validation.Field(&c.Size, validation.Min(0)),
		validation.Field(&c.Mode, validation.Required, validation.In(ModePut, ModeGet, ModeMixed)),
		validation.Field(&c.Timeout, validation.Required),
	)
}

// OpStats collects outcomes for one request type.
type OpStats struct {
	Count     int
	Success   int
	Failure   int
	Latencies []time.Duration
}

// Percentile picks the sample at rank p of the sorted latencies.
func (s *OpStats) Percentile(p float64) time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	tmp := make([]time.Duration, len(s.Latencies))
	copy(tmp, s.Latencies)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	return tmp[int(float64(len(tmp)-1)*p)]
}

type Report struct {
	Config   Config
	Total    int
	Success  int
	Failure  int
	Duration time.Duration
	Statuses map[string]int
	Ops      map[string]*OpStats
}

// Run sends cfg.Requests requests with at most cfg.Concurrency in flight.
// Transport errors and ERROR replies count as failures; Run stops issuing
// new requests once ctx is done.
func Run(ctx context.Context, cfg Config) *Report {
	report := &Report{
		Config:   cfg,
		Statuses: map[string]int{},
		Ops:      map[string]*OpStats{},
	}
	var mutex sync.Mutex

	payload := make([]byte, cfg.Size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	start := time.Now()
	for idx := 0; idx < cfg.Requests; idx++ {
		if gctx.Err() != nil {
			break
		}

		req := buildRequest(cfg, idx, payload)
		g.Go(func() error {
			began := time.Now()
			resp, err := protocol.Exchange(gctx, cfg.Addr, req, cfg.Timeout)
			elapsed := time.Since(began)

			status := "transport error"
			if err == nil {
				status = resp.Status
			}
			ok := err == nil && resp.OK()

			mutex.Lock()
			report.record(req.Type.String(), status, ok, elapsed)
			mutex.Unlock()

			if cfg.Results != nil {
				_ = cfg.Results.Write([]string{
					strconv.Itoa(idx),
					strconv.FormatInt(time.Now().UnixMilli(), 10),
					req.Type.String(),
					req.Filename,
					status,
					strconv.FormatFloat(float64(elapsed.Microseconds())/1000.0, 'f', 3, 64),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Duration = time.Since(start)

	return report
}

func buildRequest(cfg Config, idx int, payload []byte) *protocol.Request {
	name := "load-" + strconv.Itoa(idx%cfg.Files) + ".bin"

	put := cfg.Mode == ModePut || (cfg.Mode == ModeMixed && idx%2 == 0)
	if cfg.Mode == ModeMixed {
		name = "load-" + strconv.Itoa((idx/2)%cfg.Files) + ".bin"
	}

	if put {
		return &protocol.Request{
			Type:     protocol.RequestPut,
			Filename: name,
			Size:     int64(len(payload)),
			Payload:  payload,
		}
	}
	return &protocol.Request{Type: protocol.RequestGet, Filename: name}
}

func (r *Report) record(op, status string, ok bool, elapsed time.Duration) {
	stats, found := r.Ops[op]
	if !found {
		stats = &OpStats{}
		r.Ops[op] = stats
	}

	r.Total++
	stats.Count++
	stats.Latencies = append(stats.Latencies, elapsed)
	r.Statuses[status]++

	if ok {
		r.Success++
		stats.Success++
	} else {
		r.Failure++
		stats.Failure++
	}
}

func (r *Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Total) / r.Duration.Seconds()
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "--- Load Test Summary ---")
	fmt.Fprintf(w, "Target: %s  Mode: %s\n", r.Config.Addr, r.Config.Mode)
	fmt.Fprintf(w, "Requests: %d  Concurrency: %d\n", r.Config.Requests, r.Config.Concurrency)
	fmt.Fprintf(w, "Total sent: %d  Success: %d  Failure: %d\n", r.Total, r.Success, r.Failure)
	fmt.Fprintf(w, "Duration: %v  Throughput: %.2f req/s\n", r.Duration, r.Throughput())

	fmt.Fprintln(w, "\nStatuses:")
	statuses := make([]string, 0, len(r.Statuses))
	for s := range r.Statuses {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %s -> %d\n", s, r.Statuses[s])
	}

	fmt.Fprintln(w, "\nLatencies by request type:")
	ops := make([]string, 0, len(r.Ops))
	for op := range r.Ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		s := r.Ops[op]
		fmt.Fprintf(w, "  %s -> total=%d success=%d failure=%d\n", op, s.Count, s.Success, s.Failure)
		fmt.Fprintf(w, "    p50=%v p90=%v p95=%v p99=%v\n",
			s.Percentile(0.50), s.Percentile(0.90), s.Percentile(0.95), s.Percentile(0.99))
	}
}

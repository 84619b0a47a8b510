package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

var errEmptyLog = errors.New("log has no header")

type BackendHealth struct {
	ID     int
	Port   string
	Checks int
	OK     int
	Fail   int
	AvgRTT float64
}

type HealthSummary struct {
	DurationSec float64
	Checks      int
	OK          int
	Fail        int
	Backends    []BackendHealth
	RTT         Distribution
}

type MetricsSummary struct {
	Total        int
	ByType       map[string]int
	Distribution map[int]int
	ResponseTime Distribution
}

// Distribution describes a set of millisecond samples.
type Distribution struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	P95    float64
	P99    float64
}

func analyzeHealth(r io.Reader) (*HealthSummary, error) {
	rows, cols, err := readLog(r, "timestamp_ms", "backend_id", "port", "rtt_ms", "status")
	if err != nil {
		return nil, err
	}

	summary := &HealthSummary{}
	perBackend := map[int]*BackendHealth{}
	rttSums := map[int]float64{}
	var rtts []float64
	var first, last int64

	for i, row := range rows {
		ts, err := strconv.ParseInt(row[cols["timestamp_ms"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: timestamp: %w", i+2, err)
		}
		if i == 0 || ts < first {
			first = ts
		}
		if ts > last {
			last = ts
		}

		id, err := strconv.Atoi(row[cols["backend_id"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: backend_id: %w", i+2, err)
		}

		b, ok := perBackend[id]
		if !ok {
			b = &BackendHealth{ID: id, Port: row[cols["port"]]}
			perBackend[id] = b
		}
		b.Checks++
		summary.Checks++

		if row[cols["status"]] != "OK" {
			b.Fail++
			summary.Fail++
			continue
		}

		rtt, err := strconv.ParseFloat(row[cols["rtt_ms"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: rtt_ms: %w", i+2, err)
		}
		b.OK++
		summary.OK++
		rttSums[id] += rtt
		rtts = append(rtts, rtt)
	}

	for id, b := range perBackend {
		if b.OK > 0 {
			b.AvgRTT = rttSums[id] / float64(b.OK)
		}
		summary.Backends = append(summary.Backends, *b)
	}
	sort.Slice(summary.Backends, func(i, j int) bool {
		return summary.Backends[i].ID < summary.Backends[j].ID
	})

	if len(rows) > 0 {
		summary.DurationSec = float64(last-first) / 1000
	}
	summary.RTT = describe(rtts)

	return summary, nil
}

func analyzeMetrics(r io.Reader) (*MetricsSummary, error) {
	rows, cols, err := readLog(r, "request_type", "backend_selected", "response_time_ms")
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		ByType:       map[string]int{},
		Distribution: map[int]int{},
	}
	samples := make([]float64, 0, len(rows))

	for i, row := range rows {
		id, err := strconv.Atoi(row[cols["backend_selected"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: backend_selected: %w", i+2, err)
		}
		ms, err := strconv.ParseFloat(row[cols["response_time_ms"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: response_time_ms: %w", i+2, err)
		}

		summary.Total++
		summary.ByType[row[cols["request_type"]]]++
		summary.Distribution[id]++
		samples = append(samples, ms)
	}

	summary.ResponseTime = describe(samples)
	return summary, nil
}

// readLog returns the data rows and the index of every required column.
func readLog(r io.Reader, required ...string) ([][]string, map[string]int, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, errEmptyLog
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", name)
		}
	}

	return records[1:], cols, nil
}

func describe(samples []float64) Distribution {
	if len(samples) == 0 {
		return Distribution{}
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Distribution{
		Count:  len(sorted),
		Mean:   sum / float64(len(sorted)),
		Median: quantile(sorted, 0.5),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P95:    quantile(sorted, 0.95),
		P99:    quantile(sorted, 0.99),
	}
}

// quantile interpolates linearly between the closest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func (s *HealthSummary) Print(w io.Writer, name string) {
	fmt.Fprintf(w, "\nHealth Check Analysis: %s\n\n", name)
	fmt.Fprintf(w, "  Duration: %.1f seconds\n", s.DurationSec)
	fmt.Fprintf(w, "  Total checks: %d\n  Successful checks: %d\n  Failed checks: %d\n", s.Checks, s.OK, s.Fail)
	if s.Checks > 0 {
		fmt.Fprintf(w, "  Success rate: %.1f%%\n", float64(s.OK)/float64(s.Checks)*100)
	}

	fmt.Fprintf(w, "\n%-10s %-8s %-10s %-10s %-10s %-15s\n", "Backend", "Port", "Checks", "Success", "Fail", "Avg RTT (ms)")
	for _, b := range s.Backends {
		fmt.Fprintf(w, "%-10d %-8s %-10d %-10d %-10d %-15.2f\n", b.ID, b.Port, b.Checks, b.OK, b.Fail, b.AvgRTT)
	}

	if s.RTT.Count > 0 {
		fmt.Fprintf(w, "\nRTT (successful checks): mean %.2f  median %.2f  min %.2f  max %.2f ms\n",
			s.RTT.Mean, s.RTT.Median, s.RTT.Min, s.RTT.Max)
	}
}

func (s *MetricsSummary) Print(w io.Writer, name string) {
	fmt.Fprintf(w, "\nRequest Metrics Analysis: %s\n\n", name)
	fmt.Fprintf(w, "  Total requests: %d\n", s.Total)

	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %s: %d\n", t, s.ByType[t])
	}

	rt := s.ResponseTime
	fmt.Fprintf(w, "\n  Mean %.2f  Median %.2f  P95 %.2f  P99 %.2f ms\n", rt.Mean, rt.Median, rt.P95, rt.P99)

	ids := make([]int, 0, len(s.Distribution))
	for id := range s.Distribution {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Fprintf(w, "\nBackend Distribution:\n")
	for _, id := range ids {
		count := s.Distribution[id]
		fmt.Fprintf(w, "  Backend %-5d %6d (%5.1f%%)\n", id, count, float64(count)/float64(s.Total)*100)
	}
}

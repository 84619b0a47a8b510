// Loadgen drives PUT and GET traffic through the load balancer and reports
// throughput and latency percentiles per request type.
//
// Usage:
//
//	loadgen --addr 127.0.0.1:8080 --concurrency 10 --requests 1000
//	loadgen --addr 127.0.0.1:8080 --mode put --size 65536 --csv results.csv
//
// Exit codes:
//
//	0 - Every request succeeded
//	1 - Bad arguments or output file errors
//	2 - At least one request failed
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/storage-balancer/internal/csvlog"
)

func main() {
	var cfg Config
	var csvPath string

	pflag.StringVar(&cfg.Addr, "addr", "127.0.0.1:8080", "load balancer address")
	pflag.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent clients")
	pflag.IntVar(&cfg.Requests, "requests", 100, "total number of requests to send")
	pflag.IntVar(&cfg.Files, "files", 10, "number of distinct file names to cycle through")
	pflag.IntVar(&cfg.Size, "size", 1024, "PUT payload size in bytes")
	pflag.StringVar(&cfg.Mode, "mode", ModeMixed, "request mix: put, get or mixed")
	pflag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "per-request timeout")
	pflag.StringVar(&csvPath, "csv", "", "write per-request rows to this file")
	pflag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		pflag.Usage()
		os.Exit(1)
	}

	if csvPath != "" {
		w, err := csvlog.Create(csvPath, resultHeader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		cfg.Results = w
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := Run(ctx, cfg)
	report.Print(os.Stdout)

	if report.Failure > 0 {
		os.Exit(2)
	}
}

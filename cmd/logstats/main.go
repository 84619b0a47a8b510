// Logstats summarizes the CSV logs written by the load balancer.
//
// Usage:
//
//	logstats --health health_check.log --metrics lb_metrics.log
//
// The health report shows per-backend probe counts, success rate and mean
// RTT. The metrics report shows response time statistics and how requests
// were spread across backends.
//
// Exit codes:
//
//	0 - Reports printed
//	1 - Bad arguments
//	2 - File errors or malformed CSV
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	healthPath := pflag.StringP("health", "H", "", "health check log to summarize")
	metricsPath := pflag.StringP("metrics", "m", "", "request metrics log to summarize")
	pflag.Parse()

	if *healthPath == "" && *metricsPath == "" {
		fmt.Fprintln(os.Stderr, "at least one of --health or --metrics is required")
		pflag.Usage()
		os.Exit(1)
	}

	if *healthPath != "" {
		if err := withFile(*healthPath, func(r io.Reader) error {
			summary, err := analyzeHealth(r)
			if err != nil {
				return err
			}
			summary.Print(os.Stdout, *healthPath)
			return nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "health log: %v\n", err)
			os.Exit(2)
		}
	}

	if *metricsPath != "" {
		if err := withFile(*metricsPath, func(r io.Reader) error {
			summary, err := analyzeMetrics(r)
			if err != nil {
				return err
			}
			summary.Print(os.Stdout, *metricsPath)
			return nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "metrics log: %v\n", err)
			os.Exit(2)
		}
	}
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

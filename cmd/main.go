package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/storage-balancer/config"
	"github.com/angeloszaimis/storage-balancer/internal/strategy"
	"github.com/angeloszaimis/storage-balancer/pkg/logger"
)

var errMissingAlgo = errors.New("--algo is required")

type options struct {
	algo       string
	configPath string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		printUsage(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		printUsage(stderr)
		return 1
	}

	algo, err := strategy.ParseType(opts.algo)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		printUsage(stderr)
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		return 1
	}

	logOut := io.Writer(os.Stdout)
	if cfg.Logging.File != "" {
		file := logger.NewRotatingFile(cfg.Logging.File)
		defer file.Close()
		logOut = logger.Tee(file)
	}
	log := logger.NewWithWriter(cfg.Logging.Level, true, cfg.Environment, logOut)

	strat, err := strategy.New(algo)
	if err != nil {
		log.Error("Failed to create strategy", slog.String("algo", opts.algo), slog.Any("err", err))
		return 1
	}

	printBanner(stdout, cfg, strat.Name())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, strat, log)
	if err != nil {
		log.Error("Failed to start load balancer", slog.Any("err", err))
		return 1
	}
	defer a.Close()

	log.Info("Press Ctrl+C to stop")
	if err := a.Run(ctx); err != nil {
		log.Error("Load balancer stopped with error", slog.Any("err", err))
		return 1
	}

	log.Info("Shutdown complete")
	return 0
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("storage-balancer", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&opts.algo, "algo", "a", "", "load balancing algorithm (rr or lrt)")
	fs.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "config file path")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.algo == "" {
		return opts, errMissingAlgo
	}

	return opts, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: storage-balancer [options]\n"+
		"Options:\n"+
		"  -a, --algo <algorithm>    Load balancing algorithm (rr or lrt) [required]\n"+
		"  -c, --config <path>       Config file path (default: %s)\n"+
		"  -h, --help                Show this help message\n", config.DefaultPath)
}

func printBanner(w io.Writer, cfg *config.Config, algorithm string) {
	fmt.Fprintf(w, "=== Load Balancer Configuration ===\n")
	fmt.Fprintf(w, "IP: %s\nPort: %d\nAlgorithm: %s\nBackends:\n", cfg.LBIP, cfg.LBPort, algorithm)
	for _, b := range cfg.Backends {
		fmt.Fprintf(w, "  Backend %d: %s:%d\n", b.ID, b.IP, b.Port)
	}
	fmt.Fprintf(w, "===================================\n\n")
}

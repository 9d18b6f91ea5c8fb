package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/veracity/internal/loadtest"
	"github.com/okian/veracity/pkg/logger"
)

// Default configuration constants.
const (
	defaultMiners       = 100
	defaultSubmissions  = 5
	defaultRecords      = 3
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 30 * time.Second
	defaultDrainTimeout = 2 * time.Minute
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		miners       = flag.Int("miners", defaultMiners, "Number of distinct miners")
		submissions  = flag.Int("submissions", defaultSubmissions, "Submissions per miner")
		records      = flag.Int("records", defaultRecords, "Records per submission")
		token        = flag.String("token", "TAO", "Token the synthetic records mention")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		drainTimeout = flag.Duration("drain-timeout", defaultDrainTimeout, "How long to wait for every miner to be scored")
		seed         = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Seed of the synthetic data")
		outputFile   = flag.String("output", "", "Write generated submissions to this file")
		logFile      = flag.String("log", "", "Also write logs to this file")
		verbose      = flag.Bool("verbose", false, "Log individual failures")
	)
	flag.Parse()

	opts := []logger.Option{logger.WithOutput(os.Stderr)}
	if *logFile != "" {
		opts = append(opts, logger.WithFile(*logFile, 0, 0))
	}
	if err := logger.Init(opts...); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &loadtest.Config{
		BaseURL:      *baseURL,
		Miners:       *miners,
		Submissions:  *submissions,
		Records:      *records,
		Token:        *token,
		Workers:      *workers,
		Timeout:      *timeout,
		DrainTimeout: *drainTimeout,
		Seed:         *seed,
		OutputFile:   *outputFile,
		Verbose:      *verbose,
	}
	if _, err := loadtest.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

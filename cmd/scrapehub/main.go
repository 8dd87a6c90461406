package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/scrapehub/internal/api"
	"github.com/IshaanNene/scrapehub/internal/cache"
	"github.com/IshaanNene/scrapehub/internal/config"
	"github.com/IshaanNene/scrapehub/internal/engine"
	"github.com/IshaanNene/scrapehub/internal/extractor"
	"github.com/IshaanNene/scrapehub/internal/fetcher"
	"github.com/IshaanNene/scrapehub/internal/metrics"
	"github.com/IshaanNene/scrapehub/internal/pagepool"
	"github.com/IshaanNene/scrapehub/internal/ratelimit"
	"github.com/IshaanNene/scrapehub/internal/scaler"
	"github.com/IshaanNene/scrapehub/internal/singleflight"
	"github.com/IshaanNene/scrapehub/internal/throttler"
	"github.com/IshaanNene/scrapehub/internal/worker"
)

var (
	cfgFile string
	verbose bool
	port    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scrapehub",
		Short: "scrapehub — concurrent web-metadata extraction service",
		Long: `scrapehub drives a pool of headless browser contexts to extract
page metadata (title, Open Graph tags, images, article text, JSON-LD) at
one of three depths (simple/full/super), behind a rate limiter, a
two-tier cache, a cross-process single-flight coordinator, and an
adaptive throttle/scale control loop.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scrape API server",
		RunE:  runServe,
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "API port (0 = use config value)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.API.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("starting scrapehub",
		"api_port", cfg.API.Port,
		"metrics_port", cfg.Metrics.Port,
		"min_contexts", cfg.Pool.MinContexts,
		"max_contexts", cfg.Pool.MaxContexts,
	)

	m := metrics.New()

	pool, err := pagepool.New(cfg.Pool, m, logger)
	if err != nil {
		return fmt.Errorf("start page pool: %w", err)
	}
	defer pool.Close()

	l1 := cache.NewL1(cfg.Cache.L1Capacity, m)
	l2, err := cache.NewL2(cfg.Cache.L2URL, m)
	if err != nil {
		return fmt.Errorf("connect l2 cache: %w", err)
	}
	tiered := cache.NewTiered(l1, l2)

	coord := singleflight.New(l2.Client(), 45*time.Second, 30*time.Second, m)

	th := throttler.New(cfg.Throttler)
	limiter := ratelimit.New(cfg.RateLimit.MaxConcurrent, cfg.RateLimit.MaxRequestsPerMinute,
		func(time.Duration) { th.RecordRateLimitEvent() })

	f := fetcher.New(m, logger)
	ex := extractor.New(m, logger)

	eng := engine.New(pool, limiter, tiered, coord, f, ex, th, cfg.Cache.TTL, cfg.Cache.NegativeTTL, m, logger)

	sc := scaler.New(cfg.Scaler)
	wpool := worker.New(cfg.Worker, eng, sc, m, logger)
	defer wpool.Close()

	pool.OnMemorySample(func(mb float64) {
		th.RecordMemorySample(mb)
		wpool.ReportMemorySample(mb)
		if m != nil {
			m.BrowserMemoryMB.WithLabelValues("root").Set(mb)
		}
	})

	server := api.NewServer(cfg.API.Port, wpool, sc, pool, m, logger, cfg.Worker.ChunkSize)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scrapehub %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Pool:\n")
			fmt.Printf("  MinContexts:        %d\n", cfg.Pool.MinContexts)
			fmt.Printf("  MaxContexts:        %d\n", cfg.Pool.MaxContexts)
			fmt.Printf("  MaxPagesPerContext: %d\n", cfg.Pool.MaxPagesPerContext)
			fmt.Printf("  Headless:           %v\n", cfg.Pool.Headless)
			fmt.Printf("\nRateLimit:\n")
			fmt.Printf("  MaxConcurrent:        %d\n", cfg.RateLimit.MaxConcurrent)
			fmt.Printf("  MaxRequestsPerMinute: %d\n", cfg.RateLimit.MaxRequestsPerMinute)
			fmt.Printf("\nCache:\n")
			fmt.Printf("  L1Capacity: %d\n", cfg.Cache.L1Capacity)
			fmt.Printf("  TTL:        %s\n", cfg.Cache.TTL)
			fmt.Printf("  L2URL set:  %v\n", cfg.Cache.L2URL != "")
			fmt.Printf("\nScaler:\n")
			fmt.Printf("  Workers:    %d-%d\n", cfg.Scaler.MinWorkers, cfg.Scaler.MaxWorkers)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Port:       %d\n", cfg.API.Port)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:    %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:       %d\n", cfg.Metrics.Port)
			return nil
		},
	}
	return cmd
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// Command tdcsort serves tridesclous sorting results over Arrow Flight.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tflight "github.com/23skdu/tdcsort/internal/flight"
	"github.com/23skdu/tdcsort/internal/health"
	"github.com/23skdu/tdcsort/internal/limiter"
	"github.com/23skdu/tdcsort/internal/logging"
	"github.com/23skdu/tdcsort/internal/middleware"
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	var cfg Config
	if err := envconfig.Process("TDCSORT", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}
	if err := ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Output: os.Stdout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AnalyticsQueries {
		logger.Warn().Msg("query_analytics is enabled: clients can run DuckDB SQL on this host")
	}

	a, err := newApp(&cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start")
		os.Exit(1)
	}
	if err := a.serve(ctx); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
}

// app wires the Flight service, the metrics and health endpoint and their listeners.
type app struct {
	cfg    *Config
	logger zerolog.Logger

	flight  *tflight.Server
	grpc    *grpc.Server
	http    *http.Server
	lis     net.Listener
	httpLis net.Listener
}

func newApp(cfg *Config, logger zerolog.Logger) (*app, error) {
	specs, err := ParseSortings(cfg.Sortings)
	if err != nil {
		return nil, err
	}

	opts := []tflight.Option{
		tflight.WithAllocator(memory.NewGoAllocator()),
		tflight.WithChunkConfig(tflight.ChunkConfig{
			MinRows: cfg.ChunkMinRows,
			MaxRows: cfg.ChunkMaxRows,
			Growth:  cfg.ChunkGrowth,
		}),
		tflight.WithAnalyticsQueries(cfg.AnalyticsQueries),
	}
	if cfg.ExportDir != "" {
		if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
			return nil, fmt.Errorf("create export dir: %w", err)
		}
		opts = append(opts, tflight.WithExportDir(cfg.ExportDir))
	}
	fs := tflight.NewServer(logger.With().Str("component", "flight").Logger(), opts...)

	for _, spec := range specs {
		var sopts []sorting.Option
		if spec.ChanGrp != nil {
			sopts = append(sopts, sorting.WithChannelGroup(*spec.ChanGrp))
		}
		s, err := sorting.OpenFolder(spec.Path, sopts...)
		if err != nil {
			_ = fs.Close()
			return nil, fmt.Errorf("open sorting %s at %s: %w", spec.Name, spec.Path, err)
		}
		if err := fs.Register(spec.Name, s); err != nil {
			_ = s.Close()
			_ = fs.Close()
			return nil, err
		}
	}

	hm := health.NewHealthManager(version, logger)
	hm.RegisterChecker(health.NewSortingsChecker(fs))
	if cfg.ExportDir != "" {
		hm.RegisterChecker(health.NewExportDirChecker(cfg.ExportDir))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", hm.HTTPHandler())

	rl := limiter.NewRateLimiter(cfg.Config)
	cb := middleware.NewCircuitBreaker(cfg.BreakerConfig, logger)
	srvOpts := append(cfg.BuildGRPCServerOptions(),
		grpc.ChainUnaryInterceptor(logging.UnaryInterceptor(logger), rl.UnaryInterceptor(), cb.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(logging.StreamInterceptor(logger), rl.StreamInterceptor(), cb.StreamInterceptor()),
	)
	gs := grpc.NewServer(srvOpts...)
	flight.RegisterFlightServiceServer(gs, fs)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = lis.Close()
		_ = fs.Close()
		return nil, fmt.Errorf("listen %s: %w", cfg.MetricsAddr, err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		flight:  fs,
		grpc:    gs,
		http:    &http.Server{Handler: mux, ReadHeaderTimeout: cfg.KeepAliveTimeout},
		lis:     lis,
		httpLis: httpLis,
	}, nil
}

// serve runs until ctx is cancelled or a server fails, then shuts both down
// and closes every sorting.
func (a *app) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("address", a.httpLis.Addr().String()).Msg("Starting metrics server")
		if err := a.http.Serve(a.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info().
			Str("address", a.lis.Addr().String()).
			Strs("sortings", a.flight.Names()).
			Str("version", version).
			Msg("tdcsort Flight server starting")
		if err := a.grpc.Serve(a.lis); err != nil {
			return fmt.Errorf("flight server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		_ = a.http.Shutdown(shutdownCtx)

		done := make(chan struct{})
		go func() {
			a.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			a.grpc.Stop()
		}
		return a.flight.Close()
	})

	return g.Wait()
}

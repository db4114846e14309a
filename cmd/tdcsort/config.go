package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/tdcsort/internal/limiter"
	"github.com/23skdu/tdcsort/internal/middleware"
	"google.golang.org/grpc/keepalive"
)

// Config is read from TDCSORT_* environment variables.
type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:"0.0.0.0:3000"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`

	// Sortings lists served result folders as name=path[@group],...
	Sortings  string `envconfig:"SORTINGS"`
	ExportDir string `envconfig:"EXPORT_DIR"`

	// AnalyticsQueries serves query_analytics, which runs client SQL in
	// DuckDB. Keep it off unless every client is trusted.
	AnalyticsQueries bool `envconfig:"ANALYTICS_QUERIES" default:"false"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	ChunkMinRows int     `envconfig:"CHUNK_MIN_ROWS" default:"4096"`
	ChunkMaxRows int     `envconfig:"CHUNK_MAX_ROWS" default:"65536"`
	ChunkGrowth  float64 `envconfig:"CHUNK_GROWTH" default:"2.0"`

	KeepAliveTime                time.Duration `envconfig:"KEEPALIVE_TIME" default:"2h"`
	KeepAliveTimeout             time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	KeepAliveMinTime             time.Duration `envconfig:"KEEPALIVE_MIN_TIME" default:"5m"`
	KeepAlivePermitWithoutStream bool          `envconfig:"KEEPALIVE_PERMIT_WITHOUT_STREAM" default:"false"`

	GRPCMaxRecvMsgSize        int    `envconfig:"GRPC_MAX_RECV_MSG_SIZE" default:"536870912"`
	GRPCMaxSendMsgSize        int    `envconfig:"GRPC_MAX_SEND_MSG_SIZE" default:"536870912"`
	GRPCInitialWindowSize     int32  `envconfig:"GRPC_INITIAL_WINDOW_SIZE" default:"1048576"`
	GRPCInitialConnWindowSize int32  `envconfig:"GRPC_INITIAL_CONN_WINDOW_SIZE" default:"1048576"`
	GRPCMaxConcurrentStreams  uint32 `envconfig:"GRPC_MAX_CONCURRENT_STREAMS" default:"250"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	limiter.Config
	middleware.BreakerConfig
}

// Config validation errors
var (
	ErrInvalidListenAddr    = errors.New("listen_addr cannot be empty")
	ErrInvalidMetricsAddr   = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogFormat     = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel      = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidKeepAliveTime = errors.New("keepalive_time must be positive")
	ErrInvalidChunkRows     = errors.New("chunk_min_rows must be positive and not above chunk_max_rows")
	ErrInvalidChunkGrowth   = errors.New("chunk_growth must be at least 1")
	ErrInvalidSortings      = errors.New("invalid sortings")
)

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if cfg.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	if cfg.KeepAliveTime <= 0 {
		return ErrInvalidKeepAliveTime
	}
	if cfg.ChunkMinRows <= 0 || cfg.ChunkMaxRows < cfg.ChunkMinRows {
		return ErrInvalidChunkRows
	}
	if cfg.ChunkGrowth < 1 {
		return ErrInvalidChunkGrowth
	}
	if _, err := ParseSortings(cfg.Sortings); err != nil {
		return err
	}
	return cfg.ValidateGRPCConfig()
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		ListenAddr:                   "0.0.0.0:3000",
		MetricsAddr:                  "0.0.0.0:9090",
		LogFormat:                    "json",
		LogLevel:                     "info",
		ChunkMinRows:                 4096,
		ChunkMaxRows:                 65536,
		ChunkGrowth:                  2.0,
		KeepAliveTime:                2 * time.Hour,
		KeepAliveTimeout:             20 * time.Second,
		KeepAliveMinTime:             5 * time.Minute,
		KeepAlivePermitWithoutStream: false,
		GRPCMaxRecvMsgSize:           512 * 1024 * 1024,
		GRPCMaxSendMsgSize:           512 * 1024 * 1024,
		GRPCInitialWindowSize:        1 << 20,
		GRPCInitialConnWindowSize:    1 << 20,
		GRPCMaxConcurrentStreams:     250,
		ShutdownTimeout:              10 * time.Second,
		Config:                       limiter.Config{Queue: true},
		BreakerConfig:                middleware.BreakerConfig{Failures: 10, Cooldown: 30 * time.Second},
	}
}

// BuildKeepaliveParams creates gRPC keepalive server parameters from config
func BuildKeepaliveParams(cfg *Config) keepalive.ServerParameters {
	return keepalive.ServerParameters{
		Time:    cfg.KeepAliveTime,
		Timeout: cfg.KeepAliveTimeout,
	}
}

// BuildKeepalivePolicy creates gRPC keepalive enforcement policy from config
func BuildKeepalivePolicy(cfg *Config) keepalive.EnforcementPolicy {
	return keepalive.EnforcementPolicy{
		MinTime:             cfg.KeepAliveMinTime,
		PermitWithoutStream: cfg.KeepAlivePermitWithoutStream,
	}
}

// SortingSpec is one entry of TDCSORT_SORTINGS.
type SortingSpec struct {
	Name string
	Path string
	// ChanGrp is nil when the group is inferred from the folder.
	ChanGrp *int
}

// ParseSortings parses name=path[@group] entries separated by commas. A
// trailing @suffix that is not an integer stays part of the path.
func ParseSortings(s string) ([]SortingSpec, error) {
	var specs []SortingSpec
	seen := make(map[string]bool)

	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, path, ok := strings.Cut(entry, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("%w: %q is not name=path[@group]", ErrInvalidSortings, entry)
		}
		if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("%w: name %q may not be a path", ErrInvalidSortings, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidSortings, name)
		}
		seen[name] = true

		spec := SortingSpec{Name: name, Path: path}
		if i := strings.LastIndex(path, "@"); i > 0 {
			if g, err := strconv.Atoi(path[i+1:]); err == nil {
				spec.Path = path[:i]
				spec.ChanGrp = &g
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Package limiter throttles Flight calls with a shared token bucket.
package limiter

import (
	"context"
	"errors"

	"github.com/23skdu/tdcsort/internal/metrics"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds rate limiter configuration
type Config struct {
	RPS   int `envconfig:"RATE_LIMIT_RPS" default:"0"`   // 0 means disabled
	Burst int `envconfig:"RATE_LIMIT_BURST" default:"0"` // 0 means use RPS
	// Queue makes calls wait for a token up to their deadline instead of
	// failing immediately.
	Queue bool `envconfig:"RATE_LIMIT_QUEUE" default:"true"`
}

// RateLimiter guards every gRPC method with one token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	queue   bool
}

// NewRateLimiter returns a limiter; RPS <= 0 disables limiting.
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.RPS <= 0 {
		return &RateLimiter{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RPS
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		queue:   cfg.Queue,
	}
}

// Enabled reports whether calls are limited.
func (l *RateLimiter) Enabled() bool { return l.limiter != nil }

// acquire takes one token or returns a gRPC status error.
func (l *RateLimiter) acquire(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}

	if !l.queue {
		if !l.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("throttled").Inc()
			return status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		return nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return status.FromContextError(err).Err()
		}
		// The token would arrive after the deadline
		metrics.RateLimitRequestsTotal.WithLabelValues("throttled").Inc()
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
	return nil
}

// UnaryInterceptor limits unary calls such as GetFlightInfo.
func (l *RateLimiter) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := l.acquire(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor limits streaming calls such as DoGet and DoAction.
func (l *RateLimiter) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := l.acquire(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

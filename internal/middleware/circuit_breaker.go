// Package middleware holds gRPC interceptors guarding the Flight service.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/23skdu/tdcsort/internal/breaker"
	"github.com/23skdu/tdcsort/internal/metrics"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Methods that read result folders.
const (
	MethodDoGet    = "/arrow.flight.protocol.FlightService/DoGet"
	MethodDoAction = "/arrow.flight.protocol.FlightService/DoAction"
)

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	// Failures is the number of consecutive backend failures that opens the
	// breaker. 0 disables it.
	Failures int           `envconfig:"BREAKER_FAILURES" default:"10"`
	Cooldown time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
}

// backendFailure reports errors caused by the server side of a read. Client
// mistakes such as unknown sortings or unit ids never trip the breaker.
func backendFailure(err error) bool {
	switch status.Code(err) {
	case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
		return true
	default:
		return false
	}
}

// CircuitBreaker guards DoGet and DoAction with one shared breaker.
type CircuitBreaker struct {
	cb *breaker.CircuitBreaker
}

// NewCircuitBreaker returns nil when cfg.Failures is 0; the interceptors of
// a nil CircuitBreaker pass every call through.
func NewCircuitBreaker(cfg BreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	if cfg.Failures <= 0 {
		return nil
	}
	threshold := uint32(cfg.Failures)
	const name = "backend"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(breaker.StateClosed))

	return &CircuitBreaker{cb: breaker.NewCircuitBreaker(breaker.Settings{
		Name:    name,
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(counts breaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsFailure: backendFailure,
		OnStateChange: func(name string, from, to breaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})}
}

func protected(method string) bool {
	return method == MethodDoGet || method == MethodDoAction
}

func (c *CircuitBreaker) execute(fn func() error) error {
	err := c.cb.Execute(fn)
	if errors.Is(err, breaker.ErrOpenState) {
		metrics.CircuitBreakerRejectedTotal.WithLabelValues(c.cb.Name()).Inc()
		return status.Error(codes.Unavailable, "service circuit breaker is open")
	}
	return err
}

// UnaryInterceptor guards protected unary methods.
func (c *CircuitBreaker) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if c == nil || !protected(info.FullMethod) {
			return handler(ctx, req)
		}
		var res any
		err := c.execute(func() error {
			var err error
			res, err = handler(ctx, req)
			return err
		})
		return res, err
	}
}

// StreamInterceptor guards DoGet and DoAction.
func (c *CircuitBreaker) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if c == nil || !protected(info.FullMethod) {
			return handler(srv, ss)
		}
		return c.execute(func() error { return handler(srv, ss) })
	}
}

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func okHandler(ctx context.Context, req any) (any, error) {
	return "ok", nil
}

func TestNewRateLimiter(t *testing.T) {
	l := NewRateLimiter(Config{RPS: 0})
	assert.False(t, l.Enabled())

	l = NewRateLimiter(Config{RPS: 10, Burst: 20})
	require.True(t, l.Enabled())
	assert.Equal(t, float64(10), float64(l.limiter.Limit()))
	assert.Equal(t, 20, l.limiter.Burst())

	l = NewRateLimiter(Config{RPS: 5})
	assert.Equal(t, 5, l.limiter.Burst(), "burst defaults to RPS")
}

func TestRateLimiter_Disabled(t *testing.T) {
	interceptor := NewRateLimiter(Config{RPS: 0}).UnaryInterceptor()

	for i := 0; i < 100; i++ {
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, okHandler)
		require.NoError(t, err)
	}
}

func TestRateLimiter_FailFast(t *testing.T) {
	interceptor := NewRateLimiter(Config{RPS: 1, Burst: 1}).UnaryInterceptor()

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, okHandler)
	require.NoError(t, err)

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, okHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestRateLimiter_QueueRespectsDeadline(t *testing.T) {
	interceptor := NewRateLimiter(Config{RPS: 1, Burst: 1, Queue: true}).UnaryInterceptor()

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, okHandler)
	require.NoError(t, err)

	// The next token is a second away, past this deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = interceptor(ctx, nil, &grpc.UnaryServerInfo{}, okHandler)
	require.Error(t, err)
	assert.Contains(t, []codes.Code{codes.ResourceExhausted, codes.DeadlineExceeded}, status.Code(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimiter_QueueWaitsForToken(t *testing.T) {
	interceptor := NewRateLimiter(Config{RPS: 50, Burst: 1, Queue: true}).UnaryInterceptor()

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, okHandler)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = interceptor(ctx, nil, &grpc.UnaryServerInfo{}, okHandler)
	assert.NoError(t, err)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeStream) Context() context.Context     { return s.ctx }
func (s *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (s *fakeStream) SendHeader(metadata.MD) error { return nil }

func TestRateLimiter_StreamInterceptor(t *testing.T) {
	interceptor := NewRateLimiter(Config{RPS: 1, Burst: 1}).StreamInterceptor()

	calls := 0
	handler := func(srv any, ss grpc.ServerStream) error {
		calls++
		return nil
	}
	ss := &fakeStream{ctx: context.Background()}

	require.NoError(t, interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/DoGet"}, handler))
	err := interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/DoGet"}, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1, calls)
}

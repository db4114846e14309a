package client

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsNotFound reports whether err names a sorting the server does not serve.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsInvalidArgument reports whether the server rejected the request, for
// example an unknown unit id or a malformed ticket.
func IsInvalidArgument(err error) bool {
	return status.Code(err) == codes.InvalidArgument
}

// IsRateLimited reports whether the server throttled the call.
func IsRateLimited(err error) bool {
	return status.Code(err) == codes.ResourceExhausted
}

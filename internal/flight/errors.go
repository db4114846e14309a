package flight

import (
	"errors"
	"fmt"

	"github.com/23skdu/tdcsort/internal/sorting"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidTicket is returned for tickets that are neither a name nor a JSON Ticket.
	ErrInvalidTicket = errors.New("invalid ticket")
	// ErrExportDisabled is returned by actions that need an export directory.
	ErrExportDisabled = errors.New("export directory not configured")
	// ErrInvalidName is returned when registering an empty name or one with a path separator.
	ErrInvalidName = errors.New("invalid sorting name")
	// ErrSortingExists is returned when registering a name twice.
	ErrSortingExists = errors.New("sorting already registered")
)

// SortingNotFoundError indicates a name that is not registered.
type SortingNotFoundError struct {
	Name string
}

func (e *SortingNotFoundError) Error() string {
	return fmt.Sprintf("sorting not found: %s", e.Name)
}

// ToGRPCStatus maps domain errors to gRPC status errors.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}

	// Already a gRPC status error
	if _, ok := status.FromError(err); ok {
		return err
	}

	var notFoundErr *SortingNotFoundError
	switch {
	case errors.As(err, &notFoundErr):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidTicket),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, sorting.ErrInvalidUnitID),
		errors.Is(err, sorting.ErrUnknownProperty):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrSortingExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, sorting.ErrClosed):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, sorting.ErrAmbiguousChannelGroup),
		errors.Is(err, ErrExportDisabled):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

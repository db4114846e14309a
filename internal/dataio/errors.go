package dataio

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannelGroup is returned when a channel group is absent from info.json.
	ErrUnknownChannelGroup = errors.New("unknown channel group")
	// ErrArrayNotFound is returned when arrays.json does not list the requested array.
	ErrArrayNotFound = errors.New("array not found")
	// ErrCorruptArray is returned when a raw file does not match its declared shape.
	ErrCorruptArray = errors.New("corrupt array")
	// ErrUnsupportedDType is returned for numpy dtypes this reader cannot decode.
	ErrUnsupportedDType = errors.New("unsupported dtype")
	// ErrClosed is returned by reads on a closed DataIO.
	ErrClosed = errors.New("dataio closed")
)

// Error provides context for result folder operations.
type Error struct {
	Op    string // Operation: "open", "info", "catalogue", "spikes", "array"
	Path  string // File or directory involved
	Cause error  // Underlying error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dataio %s %s: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("dataio %s %s", e.Op, e.Path)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(op, path string, cause error) error {
	return &Error{Op: op, Path: path, Cause: cause}
}

package sorting

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyMissing is returned by Open when no result reader is available.
	ErrDependencyMissing = errors.New("tridesclous result reader is not available")
	// ErrAmbiguousChannelGroup is returned when the channel group cannot be inferred.
	ErrAmbiguousChannelGroup = errors.New("ambiguous channel group")
	// ErrInvalidUnitID is returned for unit ids absent from the catalogue.
	ErrInvalidUnitID = errors.New("invalid unit id")
	// ErrMissingColumn is returned when a backend table lacks a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrUnknownProperty is returned for unit properties absent from the cluster table.
	ErrUnknownProperty = errors.New("unknown unit property")
	// ErrUnknownExtractor is returned when a descriptor names another extractor.
	ErrUnknownExtractor = errors.New("unknown extractor")
	// ErrClosed is returned by queries on a closed adapter.
	ErrClosed = errors.New("sorting is closed")
)

// AmbiguousChannelGroupError reports the groups found when none or several exist.
type AmbiguousChannelGroupError struct {
	Folder string
	Groups []int
}

func (e *AmbiguousChannelGroupError) Error() string {
	if len(e.Groups) == 0 {
		return fmt.Sprintf("no channel group in %s", e.Folder)
	}
	return fmt.Sprintf("there are several channel groups in %s %v, specify one", e.Folder, e.Groups)
}

func (e *AmbiguousChannelGroupError) Is(target error) bool {
	return target == ErrAmbiguousChannelGroup
}

// InvalidUnitIDError reports a unit id that is not in UnitIDs.
type InvalidUnitIDError struct {
	UnitID int64
}

func (e *InvalidUnitIDError) Error() string {
	return fmt.Sprintf("unit id %d is not valid", e.UnitID)
}

func (e *InvalidUnitIDError) Is(target error) bool {
	return target == ErrInvalidUnitID
}

// ColumnError reports a required column that is absent or of the wrong type.
type ColumnError struct {
	Table  string
	Column string
	Reason string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("%s table: column %q %s", e.Table, e.Column, e.Reason)
}

func (e *ColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

// UnknownPropertyError reports a property name absent from the cluster table.
type UnknownPropertyError struct {
	Name string
}

func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("unknown unit property %q", e.Name)
}

func (e *UnknownPropertyError) Is(target error) bool {
	return target == ErrUnknownProperty
}

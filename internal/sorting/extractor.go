// Package sorting exposes spike sorting results through the Extractor contract.
//
// Tridesclous is the adapter over a tridesclous result folder. Its queries may
// run from several goroutines as long as the Backend tolerates concurrent
// reads, which the on-disk Backend from DataIOOpener does. Close waits for
// running queries; later queries fail with ErrClosed.
package sorting

import "slices"

// Extractor is the read contract shared by sorting result adapters.
type Extractor interface {
	// UnitIDs lists the valid unit ids.
	UnitIDs() []int64
	// SpikeTrain returns the frames of unitID's spikes, optionally clipped.
	SpikeTrain(unitID int64, opts ...FrameOption) ([]int64, error)
	// SamplingFrequency is in Hz.
	SamplingFrequency() float64
	Close() error
}

// CheckValidUnitID fails with *InvalidUnitIDError when unitID is not one of e.UnitIDs().
func CheckValidUnitID(e Extractor, unitID int64) error {
	if !slices.Contains(e.UnitIDs(), unitID) {
		return &InvalidUnitIDError{UnitID: unitID}
	}
	return nil
}

// FrameRange is a half-open frame interval; an unset bound does not filter.
type FrameRange struct {
	Start    int64
	End      int64
	HasStart bool
	HasEnd   bool
}

// FrameOption sets one bound of a FrameRange.
type FrameOption func(*FrameRange)

// StartFrame keeps frames >= n.
func StartFrame(n int64) FrameOption {
	return func(r *FrameRange) {
		r.Start = n
		r.HasStart = true
	}
}

// EndFrame keeps frames < n.
func EndFrame(n int64) FrameOption {
	return func(r *FrameRange) {
		r.End = n
		r.HasEnd = true
	}
}

// Frames builds a FrameRange from options.
func Frames(opts ...FrameOption) FrameRange {
	var r FrameRange
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Options converts r back into options.
func (r FrameRange) Options() []FrameOption {
	var opts []FrameOption
	if r.HasStart {
		opts = append(opts, StartFrame(r.Start))
	}
	if r.HasEnd {
		opts = append(opts, EndFrame(r.End))
	}
	return opts
}

// Contains reports whether frame passes both bounds.
func (r FrameRange) Contains(frame int64) bool {
	if r.HasStart && frame < r.Start {
		return false
	}
	if r.HasEnd && frame >= r.End {
		return false
	}
	return true
}

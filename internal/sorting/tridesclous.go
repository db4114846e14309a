package sorting

import (
	"math"
	"path/filepath"
	"slices"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// ExtractorName identifies this adapter in descriptors.
const ExtractorName = "TridesclousSortingExtractor"

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	chanGrp    int
	hasChanGrp bool
}

// WithChannelGroup selects the channel group instead of inferring it.
func WithChannelGroup(g int) Option {
	return func(o *openOptions) {
		o.chanGrp = g
		o.hasChanGrp = true
	}
}

// Params are the construction parameters needed to reopen an equivalent adapter.
type Params struct {
	FolderPath string `json:"folder_path"`
	ChanGrp    int    `json:"chan_grp"`
}

// Tridesclous serves unit ids and spike trains from one channel group of a
// tridesclous result folder.
type Tridesclous struct {
	backend Backend

	// mu guards clusters and closed; Close waits for running queries.
	mu       sync.RWMutex
	clusters arrow.RecordBatch
	closed   bool

	chanGrp           int
	samplingFrequency float64
	params            Params
}

var _ Extractor = (*Tridesclous)(nil)

// OpenFolder opens folderPath with the on-disk reader.
func OpenFolder(folderPath string, opts ...Option) (*Tridesclous, error) {
	return Open(DataIOOpener(), folderPath, opts...)
}

// Open resolves the channel group and loads the "initial" catalogue.
//
// Without WithChannelGroup the folder must hold exactly one channel group,
// otherwise *AmbiguousChannelGroupError is returned. Errors from the backend
// are returned unchanged.
func Open(opener BackendOpener, folderPath string, opts ...Option) (*Tridesclous, error) {
	if opener == nil {
		return nil, ErrDependencyMissing
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(folderPath)
	if err != nil {
		return nil, err
	}

	backend, err := opener(abs)
	if err != nil {
		return nil, err
	}

	chanGrp := o.chanGrp
	if !o.hasChanGrp {
		groups := backend.ChannelGroups()
		if len(groups) != 1 {
			_ = backend.Close()
			return nil, &AmbiguousChannelGroupError{Folder: abs, Groups: groups}
		}
		chanGrp = groups[0]
	}

	clusters, err := backend.LoadCatalogue(InitialCatalogue, chanGrp)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if _, err := int64Column(clusters, "cluster", ColClusterLabel); err != nil {
		clusters.Release()
		_ = backend.Close()
		return nil, err
	}

	return &Tridesclous{
		backend:           backend,
		clusters:          clusters,
		chanGrp:           chanGrp,
		samplingFrequency: backend.SampleRate(),
		params:            Params{FolderPath: abs, ChanGrp: chanGrp},
	}, nil
}

// UnitIDs returns the non-negative cluster labels in catalogue order. It is
// empty after Close.
func (s *Tridesclous) UnitIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return []int64{}
	}
	return s.unitIDs()
}

// unitIDs is UnitIDs for callers holding mu.
func (s *Tridesclous) unitIDs() []int64 {
	labels, _ := int64Column(s.clusters, "cluster", ColClusterLabel)
	ids := make([]int64, 0, labels.Len())
	for i := 0; i < labels.Len(); i++ {
		if labels.IsNull(i) {
			continue
		}
		if v := labels.Value(i); v >= 0 {
			ids = append(ids, v)
		}
	}
	return ids
}

// SpikeTrain returns the spike frames of unitID in backend order.
//
// The spike table is read from the backend on every call. The result is a new
// slice that does not alias backend storage. An inverted range yields an
// empty slice. After Close it fails with ErrClosed.
func (s *Tridesclous) SpikeTrain(unitID int64, opts ...FrameOption) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !slices.Contains(s.unitIDs(), unitID) {
		return nil, &InvalidUnitIDError{UnitID: unitID}
	}
	frames := Frames(opts...)

	spikes, err := s.backend.GetSpikes(0, s.chanGrp)
	if err != nil {
		return nil, err
	}
	defer spikes.Release()

	index, err := int64Column(spikes, "spike", ColIndex)
	if err != nil {
		return nil, err
	}
	labels, err := int64Column(spikes, "spike", ColClusterLabel)
	if err != nil {
		return nil, err
	}

	train := make([]int64, 0)
	for i := 0; i < labels.Len(); i++ {
		if labels.IsNull(i) || index.IsNull(i) || labels.Value(i) != unitID {
			continue
		}
		if v := index.Value(i); frames.Contains(v) {
			train = append(train, v)
		}
	}
	return train, nil
}

// SamplingFrequency returns the sample rate read at Open.
func (s *Tridesclous) SamplingFrequency() float64 { return s.samplingFrequency }

// ChannelGroup returns the resolved channel group.
func (s *Tridesclous) ChannelGroup() int { return s.chanGrp }

// Params returns the absolute folder path and channel group.
func (s *Tridesclous) Params() Params { return s.params }

// FrameToTime converts a frame index to seconds.
func (s *Tridesclous) FrameToTime(frame int64) float64 {
	return float64(frame) / s.samplingFrequency
}

// TimeToFrame converts seconds to the nearest frame index.
func (s *Tridesclous) TimeToFrame(seconds float64) int64 {
	return int64(math.Round(seconds * s.samplingFrequency))
}

// Close waits for running queries, then releases the catalogue and closes
// the backend. Later calls return nil.
func (s *Tridesclous) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.clusters.Release()
	s.clusters = nil
	return s.backend.Close()
}

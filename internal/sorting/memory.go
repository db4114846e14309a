package sorting

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// MemoryGroup is the content of one channel group of a MemoryBackend.
type MemoryGroup struct {
	// Catalogues maps catalogue name to its cluster labels.
	Catalogues map[string][]int64
	// SpikeIndex and SpikeLabels are the columns of segment 0.
	SpikeIndex  []int64
	SpikeLabels []int64
}

// MemoryBackend is a Backend over Go slices. It is safe for concurrent use.
type MemoryBackend struct {
	mem        memory.Allocator
	rate       float64
	groups     map[int]MemoryGroup
	spikeReads atomic.Int64
	closed     atomic.Bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a backend sampling at rate Hz.
func NewMemoryBackend(rate float64, groups map[int]MemoryGroup) *MemoryBackend {
	return &MemoryBackend{mem: memory.DefaultAllocator, rate: rate, groups: groups}
}

// WithAllocator sets the allocator for returned tables.
func (b *MemoryBackend) WithAllocator(mem memory.Allocator) *MemoryBackend {
	b.mem = mem
	return b
}

// Opener returns an opener that yields b for any folder.
func (b *MemoryBackend) Opener() BackendOpener {
	return func(string) (Backend, error) { return b, nil }
}

// SpikeReads counts GetSpikes calls.
func (b *MemoryBackend) SpikeReads() int64 { return b.spikeReads.Load() }

// Closed reports whether Close was called.
func (b *MemoryBackend) Closed() bool { return b.closed.Load() }

func (b *MemoryBackend) ChannelGroups() []int {
	groups := make([]int, 0, len(b.groups))
	for g := range b.groups {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	return groups
}

func (b *MemoryBackend) LoadCatalogue(name string, chanGrp int) (arrow.RecordBatch, error) {
	grp, ok := b.groups[chanGrp]
	if !ok {
		return nil, fmt.Errorf("memory backend: unknown channel group %d", chanGrp)
	}
	labels, ok := grp.Catalogues[name]
	if !ok {
		return nil, fmt.Errorf("memory backend: no catalogue %q in channel group %d", name, chanGrp)
	}

	schema := arrow.NewSchema([]arrow.Field{{Name: ColClusterLabel, Type: arrow.PrimitiveTypes.Int64}}, nil)
	rb := array.NewRecordBuilder(b.mem, schema)
	defer rb.Release()
	rb.Field(0).(*array.Int64Builder).AppendValues(labels, nil)
	return rb.NewRecordBatch(), nil
}

func (b *MemoryBackend) GetSpikes(segNum, chanGrp int) (arrow.RecordBatch, error) {
	b.spikeReads.Add(1)
	grp, ok := b.groups[chanGrp]
	if !ok {
		return nil, fmt.Errorf("memory backend: unknown channel group %d", chanGrp)
	}
	if segNum != 0 {
		return nil, fmt.Errorf("memory backend: no segment %d", segNum)
	}
	if len(grp.SpikeIndex) != len(grp.SpikeLabels) {
		return nil, fmt.Errorf("memory backend: %d spike indices for %d labels", len(grp.SpikeIndex), len(grp.SpikeLabels))
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColIndex, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColClusterLabel, Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rb := array.NewRecordBuilder(b.mem, schema)
	defer rb.Release()
	rb.Field(0).(*array.Int64Builder).AppendValues(grp.SpikeIndex, nil)
	rb.Field(1).(*array.Int64Builder).AppendValues(grp.SpikeLabels, nil)
	return rb.NewRecordBatch(), nil
}

func (b *MemoryBackend) SampleRate() float64 { return b.rate }

func (b *MemoryBackend) Close() error {
	b.closed.Store(true)
	return nil
}

package sorting

import (
	"github.com/23skdu/tdcsort/internal/dataio"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Column names shared by the cluster and spike tables.
const (
	ColClusterLabel = "cluster_label"
	ColIndex        = "index"
)

// InitialCatalogue is the catalogue every adapter loads.
const InitialCatalogue = "initial"

// Backend is the subset of a result folder reader the adapter needs.
// Returned record batches are owned by the caller.
type Backend interface {
	// ChannelGroups lists the channel groups in ascending order.
	ChannelGroups() []int
	// LoadCatalogue returns the cluster table of a named catalogue.
	LoadCatalogue(name string, chanGrp int) (arrow.RecordBatch, error)
	// GetSpikes returns the full spike table of one segment.
	GetSpikes(segNum, chanGrp int) (arrow.RecordBatch, error)
	SampleRate() float64
	Close() error
}

// BackendOpener opens a Backend over a result folder.
type BackendOpener func(folder string) (Backend, error)

// DataIOOpener returns an opener backed by the on-disk reader.
func DataIOOpener(opts ...dataio.Option) BackendOpener {
	return func(folder string) (Backend, error) {
		d, err := dataio.Open(folder, opts...)
		if err != nil {
			return nil, err
		}
		return &dataioBackend{d: d}, nil
	}
}

type dataioBackend struct {
	d *dataio.DataIO
}

func (b *dataioBackend) ChannelGroups() []int { return b.d.ChannelGroups() }

func (b *dataioBackend) LoadCatalogue(name string, chanGrp int) (arrow.RecordBatch, error) {
	cat, err := b.d.LoadCatalogue(name, chanGrp)
	if err != nil {
		return nil, err
	}
	return cat.Clusters, nil
}

func (b *dataioBackend) GetSpikes(segNum, chanGrp int) (arrow.RecordBatch, error) {
	return b.d.GetSpikes(segNum, chanGrp)
}

func (b *dataioBackend) SampleRate() float64 { return b.d.SampleRate() }

func (b *dataioBackend) Close() error { return b.d.Close() }

// int64Column looks up an Int64 column by name.
func int64Column(rec arrow.RecordBatch, table, name string) (*array.Int64, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, &ColumnError{Table: table, Column: name, Reason: "not found"}
	}
	col, ok := rec.Column(idx[0]).(*array.Int64)
	if !ok {
		return nil, &ColumnError{Table: table, Column: name, Reason: "is not int64"}
	}
	return col, nil
}

// Package dataio reads result folders written by the tridesclous spike sorter.
//
// A result folder holds an info.json describing the channel groups and the
// data source, and per channel group a set of segment directories (detected
// spikes) and catalogue directories (clusters). Tables are raw C-ordered numpy
// records described by an arrays.json next to them. Reads are decoded into
// Arrow record batches owned by the caller.
//
// A DataIO is read-only after Open and may be shared between goroutines; every
// read maps and decodes its files independently.
package dataio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/23skdu/tdcsort/internal/metrics"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
)

const (
	infoFile   = "info.json"
	spikesName = "spikes"
)

// ChannelGroupInfo is one entry of info.json "channel_groups".
type ChannelGroupInfo struct {
	Channels []int                `json:"channels"`
	Geometry map[string][]float64 `json:"geometry,omitempty"`
}

// Info mirrors info.json at the root of a result folder.
type Info struct {
	DatasourceType  string                      `json:"datasource_type,omitempty"`
	DatasourceKargs map[string]any              `json:"datasource_kargs,omitempty"`
	ChannelGroups   map[string]ChannelGroupInfo `json:"channel_groups"`
	TotalChannel    int                         `json:"total_channel,omitempty"`
	SampleRate      float64                     `json:"sample_rate,omitempty"`
}

// Option configures a DataIO.
type Option func(*DataIO)

// WithAllocator sets the allocator used for decoded tables.
func WithAllocator(mem memory.Allocator) Option {
	return func(d *DataIO) {
		d.mem = mem
	}
}

// DataIO is a read-only handle over a result folder.
type DataIO struct {
	dir        string
	info       Info
	groups     []int
	sampleRate float64
	mem        memory.Allocator
	closed     atomic.Bool
}

// Open reads info.json from dir and validates the channel groups and sample rate.
func Open(dir string, opts ...Option) (d *DataIO, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.FolderOpensTotal.WithLabelValues(status).Inc()
	}()

	fi, err := os.Stat(dir)
	if err != nil {
		return nil, newError("open", dir, err)
	}
	if !fi.IsDir() {
		return nil, newError("open", dir, errors.New("not a directory"))
	}

	path := filepath.Join(dir, infoFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError("info", path, err)
	}

	d = &DataIO{dir: dir, mem: memory.DefaultAllocator}
	if err := json.Unmarshal(data, &d.info); err != nil {
		return nil, newError("info", path, err)
	}

	for key := range d.info.ChannelGroups {
		g, err := strconv.Atoi(key)
		if err != nil {
			return nil, newError("info", path, fmt.Errorf("channel group key %q is not an integer", key))
		}
		d.groups = append(d.groups, g)
	}
	sort.Ints(d.groups)

	d.sampleRate = d.info.SampleRate
	if d.sampleRate == 0 {
		if v, ok := d.info.DatasourceKargs["sample_rate"].(float64); ok {
			d.sampleRate = v
		}
	}
	if d.sampleRate <= 0 {
		return nil, newError("info", path, errors.New("sample_rate missing or not positive"))
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dir returns the folder this DataIO was opened on.
func (d *DataIO) Dir() string { return d.dir }

// Info returns the parsed info.json.
func (d *DataIO) Info() Info { return d.info }

// SampleRate returns the sampling rate in Hz.
func (d *DataIO) SampleRate() float64 { return d.sampleRate }

// ChannelGroups returns the channel group ids in ascending order.
func (d *DataIO) ChannelGroups() []int {
	out := make([]int, len(d.groups))
	copy(out, d.groups)
	return out
}

// ChannelGroup returns the channels of group g.
func (d *DataIO) ChannelGroup(g int) (ChannelGroupInfo, error) {
	info, ok := d.info.ChannelGroups[strconv.Itoa(g)]
	if !ok {
		return ChannelGroupInfo{}, newError("info", d.dir, fmt.Errorf("%w: %d", ErrUnknownChannelGroup, g))
	}
	return info, nil
}

// NbSegments counts the contiguous segment_<n> directories of group g.
func (d *DataIO) NbSegments(g int) (int, error) {
	if _, err := d.ChannelGroup(g); err != nil {
		return 0, err
	}
	n := 0
	for {
		fi, err := os.Stat(d.segmentDir(n, g))
		if err != nil || !fi.IsDir() {
			return n, nil
		}
		n++
	}
}

// GetSpikes decodes the full spike table of one segment of group g.
// The caller must Release the returned batch.
func (d *DataIO) GetSpikes(segNum, g int) (arrow.RecordBatch, error) {
	if d.closed.Load() {
		return nil, newError("spikes", d.dir, ErrClosed)
	}
	if _, err := d.ChannelGroup(g); err != nil {
		return nil, err
	}

	ac, err := loadArrayCollection(d.segmentDir(segNum, g))
	if err != nil {
		return nil, err
	}
	return ac.readTable(d.mem, spikesName)
}

// Close marks the handle closed. Batches already returned stay valid.
func (d *DataIO) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *DataIO) groupDir(g int) string {
	return filepath.Join(d.dir, fmt.Sprintf("channel_group_%d", g))
}

func (d *DataIO) segmentDir(segNum, g int) string {
	return filepath.Join(d.groupDir(g), fmt.Sprintf("segment_%d", segNum))
}

func (d *DataIO) catalogueDir(name string, g int) string {
	return filepath.Join(d.groupDir(g), "catalogues", name)
}

package dataio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"
)

// Record layouts written by tridesclous for detected spikes and clusters.
var (
	spikeDescr = [][2]string{
		{"index", "<i8"},
		{"cluster_label", "<i8"},
		{"channel", "<i8"},
		{"segment", "<i8"},
		{"extremum_amplitude", "<f8"},
		{"timestamp", "<f8"},
	}
	clusterDescr = [][2]string{
		{"cluster_label", "<i8"},
		{"cell_label", "<i8"},
		{"extremum_channel", "<i8"},
		{"extremum_amplitude", "<f8"},
		{"waveform_rms", "<f8"},
		{"nb_peak", "<i8"},
		{"tag", "<U16"},
		{"annotations", "<U32"},
		{"color", "<u4"},
	}
)

// SpikeRow is one detected spike in a fixture.
type SpikeRow struct {
	Index             int64
	ClusterLabel      int64
	Channel           int64
	ExtremumAmplitude float64
}

// ClusterRow is one cluster of a fixture catalogue.
type ClusterRow struct {
	ClusterLabel      int64
	CellLabel         int64
	ExtremumChannel   int64
	ExtremumAmplitude float64
	WaveformRMS       float64
	NbPeak            int64
	Tag               string
	Annotations       string
	Color             uint32
}

// FixtureGroup is the content of one channel group.
type FixtureGroup struct {
	Channels []int
	// Catalogues maps catalogue name to its cluster rows.
	Catalogues map[string][]ClusterRow
	// Segments holds the spike table of each segment.
	Segments [][]SpikeRow
}

// Fixture describes a result folder for tests and tooling.
type Fixture struct {
	SampleRate float64
	// SampleRateInKargs stores the rate under datasource_kargs only.
	SampleRateInKargs bool
	Groups            map[int]FixtureGroup
}

// WriteFixture lays out fx as a result folder under dir.
func WriteFixture(dir string, fx Fixture) error {
	info := Info{
		DatasourceType:  "RawData",
		DatasourceKargs: map[string]any{"dtype": "int16"},
		ChannelGroups:   make(map[string]ChannelGroupInfo, len(fx.Groups)),
	}
	if fx.SampleRateInKargs {
		info.DatasourceKargs["sample_rate"] = fx.SampleRate
	} else {
		info.SampleRate = fx.SampleRate
	}

	for g, grp := range fx.Groups {
		info.ChannelGroups[strconv.Itoa(g)] = ChannelGroupInfo{Channels: grp.Channels}
		info.TotalChannel += len(grp.Channels)

		groupDir := filepath.Join(dir, fmt.Sprintf("channel_group_%d", g))
		for s, spikes := range grp.Segments {
			segDir := filepath.Join(groupDir, fmt.Sprintf("segment_%d", s))
			if err := writeArray(segDir, spikesName, spikeDescr, len(spikes), encodeSpikes(spikes, s)); err != nil {
				return err
			}
		}
		for name, clusters := range grp.Catalogues {
			catDir := filepath.Join(groupDir, "catalogues", name)
			if err := writeArray(catDir, clustersName, clusterDescr, len(clusters), encodeClusters(clusters)); err != nil {
				return err
			}
			params := map[string]any{"chan_grp": g, "name": name}
			if err := writeJSON(filepath.Join(catDir, catalogueFile), params); err != nil {
				return err
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, infoFile), info)
}

func writeArray(dir, name string, descr [][2]string, rows int, raw []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dtype, err := json.Marshal(descr)
	if err != nil {
		return err
	}
	attrs := map[string]ArrayAttr{name: {DType: dtype, Shape: []int{rows}}}
	if err := writeJSON(filepath.Join(dir, arraysFile), attrs); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+".raw"), raw, 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func encodeSpikes(rows []SpikeRow, segment int) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 0, len(rows)*48)
	for _, r := range rows {
		buf = le.AppendUint64(buf, uint64(r.Index))
		buf = le.AppendUint64(buf, uint64(r.ClusterLabel))
		buf = le.AppendUint64(buf, uint64(r.Channel))
		buf = le.AppendUint64(buf, uint64(segment))
		buf = le.AppendUint64(buf, math.Float64bits(r.ExtremumAmplitude))
		buf = le.AppendUint64(buf, math.Float64bits(float64(r.Index)))
	}
	return buf
}

func encodeClusters(rows []ClusterRow) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 0, len(rows)*244)
	for _, r := range rows {
		buf = le.AppendUint64(buf, uint64(r.ClusterLabel))
		buf = le.AppendUint64(buf, uint64(r.CellLabel))
		buf = le.AppendUint64(buf, uint64(r.ExtremumChannel))
		buf = le.AppendUint64(buf, math.Float64bits(r.ExtremumAmplitude))
		buf = le.AppendUint64(buf, math.Float64bits(r.WaveformRMS))
		buf = le.AppendUint64(buf, uint64(r.NbPeak))
		buf = appendUnicode(buf, r.Tag, 16)
		buf = appendUnicode(buf, r.Annotations, 32)
		buf = le.AppendUint32(buf, r.Color)
	}
	return buf
}

// appendUnicode writes s as n UTF-32LE code units, truncated or NUL padded.
func appendUnicode(buf []byte, s string, n int) []byte {
	written := 0
	for _, r := range s {
		if written == n {
			break
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r))
		written++
	}
	for ; written < n; written++ {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}
	return buf
}

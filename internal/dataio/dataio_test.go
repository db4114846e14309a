package dataio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFixture() Fixture {
	return Fixture{
		SampleRate: 30000,
		Groups: map[int]FixtureGroup{
			0: {
				Channels: []int{0, 1, 2, 3},
				Catalogues: map[string][]ClusterRow{
					"initial": {
						{ClusterLabel: -1, CellLabel: -1, Tag: "trash"},
						{ClusterLabel: 0, CellLabel: 0, ExtremumChannel: 2, NbPeak: 3, Tag: "good", Color: 0xff0000},
						{ClusterLabel: 1, CellLabel: 1, ExtremumChannel: 1, NbPeak: 2, Annotations: "bursty"},
					},
				},
				Segments: [][]SpikeRow{
					{
						{Index: 10, ClusterLabel: 0},
						{Index: 25, ClusterLabel: 1},
						{Index: 40, ClusterLabel: -1},
						{Index: 55, ClusterLabel: 0},
						{Index: 70, ClusterLabel: 1},
						{Index: 90, ClusterLabel: 0},
					},
					{
						{Index: 5, ClusterLabel: 0},
					},
				},
			},
		},
	}
}

func writeTestFolder(t *testing.T, fx Fixture) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, WriteFixture(dir, fx))
	return dir
}

func TestOpen(t *testing.T) {
	dir := writeTestFolder(t, testFixture())

	d, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	assert.Equal(t, dir, d.Dir())
	assert.Equal(t, []int{0}, d.ChannelGroups())
	assert.Equal(t, 30000.0, d.SampleRate())
	assert.Equal(t, "RawData", d.Info().DatasourceType)

	grp, err := d.ChannelGroup(0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, grp.Channels)

	n, err := d.NbSegments(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpen_ChannelGroupsSorted(t *testing.T) {
	fx := testFixture()
	fx.Groups[3] = FixtureGroup{Channels: []int{8}}
	fx.Groups[1] = FixtureGroup{Channels: []int{4, 5}}
	dir := writeTestFolder(t, fx)

	d, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, d.ChannelGroups())

	groups := d.ChannelGroups()
	groups[0] = 99
	assert.Equal(t, []int{0, 1, 3}, d.ChannelGroups(), "ChannelGroups must return a copy")
}

func TestOpen_SampleRateFromKargs(t *testing.T) {
	fx := testFixture()
	fx.SampleRate = 20000
	fx.SampleRateInKargs = true
	dir := writeTestFolder(t, fx)

	d, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, d.SampleRate())
}

func TestOpen_Errors(t *testing.T) {
	t.Run("missing folder", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"))
		var dErr *Error
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, "open", dErr.Op)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("not a directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		_, err := Open(path)
		assert.Error(t, err)
	})

	t.Run("missing info", func(t *testing.T) {
		_, err := Open(t.TempDir())
		var dErr *Error
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, "info", dErr.Op)
	})

	t.Run("missing sample rate", func(t *testing.T) {
		fx := testFixture()
		fx.SampleRate = 0
		_, err := Open(writeTestFolder(t, fx))
		assert.ErrorContains(t, err, "sample_rate")
	})

	t.Run("non integer group", func(t *testing.T) {
		dir := t.TempDir()
		info := `{"channel_groups": {"a": {"channels": [0]}}, "sample_rate": 1000}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, infoFile), []byte(info), 0o644))
		_, err := Open(dir)
		assert.ErrorContains(t, err, "not an integer")
	})
}

func TestGetSpikes(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	d, err := Open(writeTestFolder(t, testFixture()), WithAllocator(mem))
	require.NoError(t, err)

	rec, err := d.GetSpikes(0, 0)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(6), rec.NumRows())
	idx := rec.Column(0).(*array.Int64)
	labels := rec.Column(1).(*array.Int64)
	assert.Equal(t, "index", rec.ColumnName(0))
	assert.Equal(t, "cluster_label", rec.ColumnName(1))
	assert.Equal(t, []int64{10, 25, 40, 55, 70, 90}, idx.Int64Values())
	assert.Equal(t, []int64{0, 1, -1, 0, 1, 0}, labels.Int64Values())

	seg1, err := d.GetSpikes(1, 0)
	require.NoError(t, err)
	defer seg1.Release()
	assert.Equal(t, int64(1), seg1.NumRows())
	assert.Equal(t, int64(1), seg1.Column(3).(*array.Int64).Value(0), "segment column")
}

func TestGetSpikes_Errors(t *testing.T) {
	dir := writeTestFolder(t, testFixture())
	d, err := Open(dir)
	require.NoError(t, err)

	_, err = d.GetSpikes(0, 7)
	assert.ErrorIs(t, err, ErrUnknownChannelGroup)

	_, err = d.GetSpikes(5, 0)
	assert.ErrorIs(t, err, os.ErrNotExist)

	raw := filepath.Join(dir, "channel_group_0", "segment_0", "spikes.raw")
	require.NoError(t, os.Truncate(raw, 50))
	_, err = d.GetSpikes(0, 0)
	assert.ErrorIs(t, err, ErrCorruptArray)

	require.NoError(t, d.Close())
	_, err = d.GetSpikes(1, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGetSpikes_RawFileLongerThanShape(t *testing.T) {
	dir := writeTestFolder(t, testFixture())
	raw := filepath.Join(dir, "channel_group_0", "segment_0", "spikes.raw")
	f, err := os.OpenFile(raw, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 13))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	d, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	rec, err := d.GetSpikes(0, 0)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(6), rec.NumRows())
	assert.Equal(t, []int64{10, 25, 40, 55, 70, 90}, rec.Column(0).(*array.Int64).Int64Values())
}

func TestGetSpikes_EmptyArrayWithoutRawFile(t *testing.T) {
	dir := writeTestFolder(t, testFixture())
	seg := filepath.Join(dir, "channel_group_0", "segment_0")

	c, err := loadArrayCollection(seg)
	require.NoError(t, err)
	attr := c.attrs["spikes"]
	attr.Shape = []int{0}
	c.attrs["spikes"] = attr
	require.NoError(t, writeJSON(filepath.Join(seg, arraysFile), c.attrs))
	require.NoError(t, os.Remove(filepath.Join(seg, "spikes.raw")))

	d, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	rec, err := d.GetSpikes(0, 0)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(0), rec.NumRows())
	assert.Equal(t, "index", rec.ColumnName(0))
}

func TestLoadCatalogue(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	d, err := Open(writeTestFolder(t, testFixture()), WithAllocator(mem))
	require.NoError(t, err)

	cat, err := d.LoadCatalogue("initial", 0)
	require.NoError(t, err)
	defer cat.Release()

	assert.Equal(t, "initial", cat.Name)
	assert.Equal(t, 0, cat.ChanGrp)
	assert.Equal(t, "initial", cat.Params["name"])

	clusters := cat.Clusters
	require.NotNil(t, clusters)
	assert.Equal(t, int64(3), clusters.NumRows())
	assert.Equal(t, "cluster_label", clusters.ColumnName(0))
	assert.Equal(t, []int64{-1, 0, 1}, clusters.Column(0).(*array.Int64).Int64Values())

	tags := clusters.Column(6).(*array.String)
	assert.Equal(t, "trash", tags.Value(0))
	assert.Equal(t, "good", tags.Value(1))
	assert.Equal(t, "bursty", clusters.Column(7).(*array.String).Value(2))
	assert.Equal(t, uint64(0xff0000), clusters.Column(8).(*array.Uint64).Value(1))
}

func TestLoadCatalogue_Errors(t *testing.T) {
	d, err := Open(writeTestFolder(t, testFixture()))
	require.NoError(t, err)

	_, err = d.LoadCatalogue("initial", 4)
	assert.ErrorIs(t, err, ErrUnknownChannelGroup)

	_, err = d.LoadCatalogue("final", 0)
	require.Error(t, err)
	var dErr *Error
	assert.True(t, errors.As(err, &dErr))
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/23skdu/tdcsort/client"
	"github.com/23skdu/tdcsort/internal/dataio"
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeResultFolder(t *testing.T, groups ...int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tdc_result")
	fx := dataio.Fixture{SampleRate: 30000, Groups: map[int]dataio.FixtureGroup{}}
	for _, g := range groups {
		fx.Groups[g] = dataio.FixtureGroup{
			Channels: []int{0, 1, 2, 3},
			Catalogues: map[string][]dataio.ClusterRow{
				sorting.InitialCatalogue: {
					{ClusterLabel: -1, Tag: "trash"},
					{ClusterLabel: 0, Tag: "good"},
					{ClusterLabel: 1, Tag: "good"},
				},
			},
			Segments: [][]dataio.SpikeRow{{
				{Index: 10, ClusterLabel: 0},
				{Index: 20, ClusterLabel: 1},
				{Index: 30, ClusterLabel: -1},
				{Index: 40, ClusterLabel: 0},
			}},
		}
	}
	require.NoError(t, dataio.WriteFixture(dir, fx))
	return dir
}

func testConfig(t *testing.T, sortings string) *Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.Sortings = sortings
	cfg.ExportDir = filepath.Join(t.TempDir(), "exports")
	cfg.ShutdownTimeout = 2 * time.Second
	require.NoError(t, ValidateConfig(&cfg))
	return &cfg
}

func startApp(t *testing.T, cfg *Config) (*app, <-chan error) {
	t.Helper()
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("app did not shut down")
		}
	})
	return a, done
}

func TestApp_ServesSortings(t *testing.T) {
	dir := writeResultFolder(t, 0, 3)
	a, _ := startApp(t, testConfig(t, fmt.Sprintf("rec=%s@3", dir)))

	c, err := client.New(a.lis.Addr().String())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	names, err := c.ListSortings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec"}, names)

	desc, err := c.Describe(ctx, "rec")
	require.NoError(t, err)
	assert.Equal(t, 30000.0, desc.SamplingFrequency)
	require.NotNil(t, desc.Descriptor)
	assert.Equal(t, 3, desc.Descriptor.Kwargs.ChanGrp)

	train, err := c.SpikeTrain(ctx, "rec", 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 40}, train)

	_, err = c.SpikeTrain(ctx, "rec", -1, nil, nil)
	assert.True(t, client.IsInvalidArgument(err))
}

func TestApp_HTTPEndpoints(t *testing.T) {
	dir := writeResultFolder(t, 0)
	a, _ := startApp(t, testConfig(t, "rec="+dir))
	base := "http://" + a.httpLis.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"sortings"`)
	assert.Contains(t, string(body), `"export_dir"`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tdcsort_sortings_registered")
}

func TestApp_GracefulShutdown(t *testing.T) {
	dir := writeResultFolder(t, 0)
	a, err := newApp(testConfig(t, "rec="+dir), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Empty(t, a.flight.Names(), "sortings are closed on shutdown")
}

func TestNewApp_Errors(t *testing.T) {
	dir := writeResultFolder(t, 0, 1)

	_, err := newApp(testConfig(t, "rec="+dir), zerolog.Nop())
	assert.ErrorIs(t, err, sorting.ErrAmbiguousChannelGroup)

	_, err = newApp(testConfig(t, "rec="+filepath.Join(t.TempDir(), "missing")), zerolog.Nop())
	assert.Error(t, err)
}

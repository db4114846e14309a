package flight

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/23skdu/tdcsort/internal/export"
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

func testExtractor(t *testing.T) *sorting.Tridesclous {
	t.Helper()
	b := sorting.NewMemoryBackend(1000, map[int]sorting.MemoryGroup{
		0: {
			Catalogues:  map[string][]int64{sorting.InitialCatalogue: {-1, 4, 2}},
			SpikeIndex:  []int64{10, 20, 30, 40, 50, 60, 70},
			SpikeLabels: []int64{4, 2, -1, 4, 2, 4, 4},
		},
	})
	s, err := sorting.Open(b.Opener(), "folder")
	require.NoError(t, err)
	return s
}

func startServer(t *testing.T, opts ...Option) (*Server, flight.Client) {
	t.Helper()
	srv := NewServer(zerolog.Nop(), opts...)
	require.NoError(t, srv.Register("rec1", testExtractor(t)))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	flight.RegisterFlightServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	client, err := flight.NewClientWithMiddleware(lis.Addr().String(), nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		gs.Stop()
		_ = srv.Close()
	})
	return srv, client
}

type fetched struct {
	units   []int64
	frames  []int64
	times   []float64
	batches int
}

func doGet(t *testing.T, client flight.Client, ticket []byte) (fetched, error) {
	t.Helper()
	stream, err := client.DoGet(context.Background(), &flight.Ticket{Ticket: ticket})
	require.NoError(t, err)

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return fetched{}, err
	}
	defer rdr.Release()

	var out fetched
	for rdr.Next() {
		rec := rdr.RecordBatch()
		out.batches++
		out.units = append(out.units, rec.Column(0).(*array.Int64).Int64Values()...)
		out.frames = append(out.frames, rec.Column(1).(*array.Int64).Int64Values()...)
		out.times = append(out.times, rec.Column(2).(*array.Float64).Float64Values()...)
	}
	return out, rdr.Err()
}

func TestRegister(t *testing.T) {
	srv := NewServer(zerolog.Nop())
	defer func() { _ = srv.Close() }()

	require.NoError(t, srv.Register("b", testExtractor(t)))
	require.NoError(t, srv.Register("a", testExtractor(t)))

	err := srv.Register("a", testExtractor(t))
	assert.ErrorIs(t, err, ErrSortingExists)
	for _, name := range []string{"", ".", "..", "a/x", `b\x`} {
		e := testExtractor(t)
		assert.ErrorIs(t, srv.Register(name, e), ErrInvalidName, name)
		_ = e.Close()
	}

	assert.Equal(t, []string{"a", "b"}, srv.Names())

	require.NoError(t, srv.Unregister("a"))
	assert.Equal(t, []string{"b"}, srv.Names())

	var nf *SortingNotFoundError
	assert.ErrorAs(t, srv.Unregister("a"), &nf)
}

func TestUnregister_WaitsForRunningHandlers(t *testing.T) {
	srv, client := startServer(t)

	e, release, err := srv.get("rec1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Unregister("rec1") }()

	assert.Eventually(t, func() bool { return !srv.has("rec1") }, time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Unregister returned before the handler released the sorting: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	rows, err := export.Rows(e, nil, sorting.FrameRange{})
	require.NoError(t, err)
	assert.Len(t, rows, 6)

	release()
	require.NoError(t, <-done)

	_, err = e.SpikeTrain(4)
	assert.ErrorIs(t, err, sorting.ErrClosed)
	assert.Equal(t, codes.NotFound, status.Code(ToGRPCStatus(err)))

	_, err = doGet(t, client, []byte("rec1"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestClose_WaitsForRunningHandlers(t *testing.T) {
	srv := NewServer(zerolog.Nop())
	require.NoError(t, srv.Register("rec1", testExtractor(t)))

	e, release, err := srv.get("rec1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Close() }()

	assert.Eventually(t, func() bool { return len(srv.Names()) == 0 }, time.Second, time.Millisecond)
	train, err := e.SpikeTrain(2)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 50}, train)

	release()
	require.NoError(t, <-done)
	assert.Empty(t, e.UnitIDs())
}

func TestListFlights(t *testing.T) {
	_, client := startServer(t)

	stream, err := client.ListFlights(context.Background(), &flight.Criteria{})
	require.NoError(t, err)

	var names []string
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, info.FlightDescriptor.Path[0])
		assert.Equal(t, "rec1", string(info.Endpoint[0].Ticket.Ticket))
	}
	assert.Equal(t, []string{"rec1"}, names)
}

func TestGetFlightInfo(t *testing.T) {
	_, client := startServer(t)
	ctx := context.Background()

	info, err := client.GetFlightInfo(ctx, &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"rec1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), info.TotalRecords)

	_, err = client.GetFlightInfo(ctx, &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"missing"}})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetFlightInfo(ctx, &flight.FlightDescriptor{Type: flight.DescriptorCMD, Cmd: []byte("x")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetSchema(t *testing.T) {
	_, client := startServer(t)

	res, err := client.GetSchema(context.Background(), &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"rec1"}})
	require.NoError(t, err)

	schema, err := flight.DeserializeSchema(res.Schema, memory.DefaultAllocator)
	require.NoError(t, err)
	assert.Equal(t, []string{"unit_id", "frame", "time_s"}, []string{
		schema.Field(0).Name, schema.Field(1).Name, schema.Field(2).Name,
	})
}

func TestDoGet_AllUnits(t *testing.T) {
	_, client := startServer(t, WithChunkConfig(ChunkConfig{MinRows: 2, MaxRows: 4, Growth: 2}))

	got, err := doGet(t, client, []byte("rec1"))
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 4, 4, 4, 2, 2}, got.units)
	assert.Equal(t, []int64{10, 40, 60, 70, 20, 50}, got.frames)
	assert.InDelta(t, 0.06, got.times[2], 1e-12)
	assert.Equal(t, 2, got.batches)
}

func TestDoGet_TicketSelection(t *testing.T) {
	_, client := startServer(t)

	unit, start, end := int64(4), int64(40), int64(70)
	raw, err := Ticket{Sorting: "rec1", UnitID: &unit, StartFrame: &start, EndFrame: &end}.Encode()
	require.NoError(t, err)

	got, err := doGet(t, client, raw)
	require.NoError(t, err)
	assert.Equal(t, []int64{40, 60}, got.frames)
}

func TestDoGet_Errors(t *testing.T) {
	_, client := startServer(t)

	bad := int64(99)
	invalidUnit, err := Ticket{Sorting: "rec1", UnitID: &bad}.Encode()
	require.NoError(t, err)

	tests := []struct {
		name   string
		ticket []byte
		code   codes.Code
	}{
		{"unknown sorting", []byte("nope"), codes.NotFound},
		{"malformed json", []byte("{not json"), codes.InvalidArgument},
		{"invalid unit", invalidUnit, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := doGet(t, client, tt.ticket)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func doAction(t *testing.T, client flight.Client, typ string, body any) ([]byte, error) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	stream, err := client.DoAction(context.Background(), &flight.Action{Type: typ, Body: raw})
	require.NoError(t, err)
	res, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func TestDoAction_Units(t *testing.T) {
	_, client := startServer(t)

	body, err := doAction(t, client, ActionUnits, SortingRequest{Sorting: "rec1"})
	require.NoError(t, err)

	var ids []int64
	require.NoError(t, json.Unmarshal(body, &ids))
	assert.Equal(t, []int64{4, 2}, ids)
}

func TestDoAction_Describe(t *testing.T) {
	_, client := startServer(t)

	body, err := doAction(t, client, ActionDescribe, SortingRequest{Sorting: "rec1"})
	require.NoError(t, err)

	var desc Description
	require.NoError(t, json.Unmarshal(body, &desc))
	assert.Equal(t, "rec1", desc.Name)
	assert.Equal(t, 1000.0, desc.SamplingFrequency)
	assert.Equal(t, 2, desc.NumUnits)
	require.NotNil(t, desc.Descriptor)
	assert.Equal(t, sorting.ExtractorName, desc.Descriptor.Extractor)
	assert.Equal(t, 0, desc.Descriptor.Kwargs.ChanGrp)
}

func TestDoAction_Errors(t *testing.T) {
	_, client := startServer(t)

	_, err := doAction(t, client, ActionUnits, SortingRequest{Sorting: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = doAction(t, client, ActionUnits, SortingRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = doAction(t, client, ActionSummary, SortingRequest{Sorting: "rec1"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "summary without export dir")

	_, err = doAction(t, client, "bogus", SortingRequest{Sorting: "rec1"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestDoAction_Summary(t *testing.T) {
	_, client := startServer(t, WithExportDir(t.TempDir()))

	body, err := doAction(t, client, ActionSummary, SortingRequest{Sorting: "rec1"})
	if err != nil && strings.Contains(err.Error(), "failed to open duckdb") {
		t.Skip("duckdb unavailable")
	}
	require.NoError(t, err)

	rdr, err := ipc.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer rdr.Release()

	var units, counts []int64
	for rdr.Next() {
		rec := rdr.RecordBatch()
		units = append(units, rec.Column(0).(*array.Int64).Int64Values()...)
		counts = append(counts, rec.Column(1).(*array.Int64).Int64Values()...)
	}
	require.NoError(t, rdr.Err())
	assert.Equal(t, []int64{2, 4}, units)
	assert.Equal(t, []int64{2, 4}, counts)
}

func TestDoAction_QueryAnalyticsDisabledByDefault(t *testing.T) {
	_, client := startServer(t, WithExportDir(t.TempDir()))

	_, err := doAction(t, client, ActionQueryAnalytics, QueryRequest{Sorting: "rec1", Query: "SELECT 1"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestDoAction_QueryAnalytics(t *testing.T) {
	_, client := startServer(t, WithExportDir(t.TempDir()), WithAnalyticsQueries(true))

	_, err := doAction(t, client, ActionQueryAnalytics, QueryRequest{Sorting: "rec1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	body, err := doAction(t, client, ActionQueryAnalytics, QueryRequest{
		Sorting: "rec1",
		Query:   "SELECT max(frame) AS last FROM spikes WHERE unit_id = 2",
	})
	if err != nil && strings.Contains(err.Error(), "failed to open duckdb") {
		t.Skip("duckdb unavailable")
	}
	require.NoError(t, err)

	rdr, err := ipc.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer rdr.Release()

	require.True(t, rdr.Next())
	assert.Equal(t, int64(50), rdr.RecordBatch().Column(0).(*array.Int64).Value(0))
}

func listActionTypes(t *testing.T, client flight.Client) []string {
	t.Helper()
	stream, err := client.ListActions(context.Background(), &flight.Empty{})
	require.NoError(t, err)

	var types []string
	for {
		a, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return types
		}
		require.NoError(t, err)
		types = append(types, a.Type)
	}
}

func TestListActions(t *testing.T) {
	_, client := startServer(t)
	assert.ElementsMatch(t, []string{ActionUnits, ActionDescribe, ActionSummary}, listActionTypes(t, client))

	_, client = startServer(t, WithAnalyticsQueries(true))
	assert.ElementsMatch(t, []string{ActionUnits, ActionDescribe, ActionSummary, ActionQueryAnalytics}, listActionTypes(t, client))
}

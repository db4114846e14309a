// Package flight serves registered sortings over Arrow Flight.
//
// Each sorting is a flight addressed by its name. DoGet streams spike rows in
// export.SpikeSchema; DoAction answers unit listings, descriptors and DuckDB
// summaries over Parquet exports.
package flight

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/23skdu/tdcsort/internal/export"
	"github.com/23skdu/tdcsort/internal/metrics"
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Option configures a Server.
type Option func(*Server)

// WithAllocator sets the allocator for streamed records.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Server) { s.mem = mem }
}

// WithExportDir enables the summary and query_analytics actions, which export
// sortings to <dir>/<name>.parquet.
func WithExportDir(dir string) Option {
	return func(s *Server) { s.exportDir = dir }
}

// WithAnalyticsQueries enables the query_analytics action. It runs client
// SQL in DuckDB, which can read and write server files, so enable it only on
// trusted networks.
func WithAnalyticsQueries(enabled bool) Option {
	return func(s *Server) { s.analyticsQueries = enabled }
}

// WithChunkConfig sets DoGet batch sizing.
func WithChunkConfig(c ChunkConfig) Option {
	return func(s *Server) { s.chunks = c }
}

// Server is a Flight service over a registry of named sortings.
type Server struct {
	flight.BaseFlightServer

	mu       sync.RWMutex
	sortings map[string]*entry

	mem       memory.Allocator
	logger    zerolog.Logger
	analyzer  *export.Analyzer
	exportDir string
	chunks    ChunkConfig

	analyticsQueries bool
}

// entry counts the handlers using a sorting so it is closed only after they return.
type entry struct {
	ext      sorting.Extractor
	inflight sync.WaitGroup
}

// NewServer creates an empty server.
func NewServer(logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		sortings: make(map[string]*entry),
		mem:      memory.DefaultAllocator,
		logger:   logger,
		analyzer: export.NewAnalyzer(),
		chunks:   DefaultChunkConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register serves e under name. The server takes ownership of e. Names are
// used as export file names, so they may not contain path separators.
func (s *Server) Register(name string, e sorting.Extractor) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sortings[name]; ok {
		return fmt.Errorf("%w: %s", ErrSortingExists, name)
	}
	s.sortings[name] = &entry{ext: e}
	metrics.SortingsRegistered.Set(float64(len(s.sortings)))
	s.logger.Info().Str("sorting", name).Int("units", len(e.UnitIDs())).Msg("sorting registered")
	return nil
}

// Unregister removes the sorting, waits for handlers still reading it and
// closes it.
func (s *Server) Unregister(name string) error {
	s.mu.Lock()
	en, ok := s.sortings[name]
	delete(s.sortings, name)
	metrics.SortingsRegistered.Set(float64(len(s.sortings)))
	s.mu.Unlock()

	if !ok {
		return &SortingNotFoundError{Name: name}
	}
	en.inflight.Wait()
	return en.ext.Close()
}

// Names lists registered sortings in lexical order.
func (s *Server) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.sortings))
	for n := range s.sortings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close unregisters every sorting, waiting for running handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	entries := s.sortings
	s.sortings = make(map[string]*entry)
	metrics.SortingsRegistered.Set(0)
	s.mu.Unlock()

	var firstErr error
	for _, en := range entries {
		en.inflight.Wait()
		if err := en.ext.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// get returns the named sorting and a release func the caller must call once
// it stops using the sorting.
func (s *Server) get(name string) (sorting.Extractor, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	en, ok := s.sortings[name]
	if !ok {
		return nil, nil, &SortingNotFoundError{Name: name}
	}
	en.inflight.Add(1)
	return en.ext, en.inflight.Done, nil
}

// has reports whether name is registered.
func (s *Server) has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sortings[name]
	return ok
}

func (s *Server) exportPath(name string) (string, error) {
	if s.exportDir == "" {
		return "", ErrExportDisabled
	}
	return filepath.Join(s.exportDir, name+".parquet"), nil
}

func observe(method string, start time.Time, err error) {
	st := "ok"
	if err != nil {
		st = status.Code(err).String()
	}
	metrics.FlightOperationsTotal.WithLabelValues(method, st).Inc()
	metrics.FlightDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (s *Server) flightInfo(name string) *flight.FlightInfo {
	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(export.SpikeSchema, s.mem),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{name},
		},
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: []byte(name)},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
	}
}

func descriptorName(desc *flight.FlightDescriptor) (string, error) {
	if desc == nil || desc.Type != flight.DescriptorPATH || len(desc.Path) != 1 {
		return "", status.Error(codes.InvalidArgument, "descriptor must be a path with one element")
	}
	return desc.Path[0], nil
}

// ListFlights returns one flight per registered sorting.
func (s *Server) ListFlights(c *flight.Criteria, stream flight.FlightService_ListFlightsServer) (err error) {
	defer func(start time.Time) { observe("ListFlights", start, err) }(time.Now())

	for _, name := range s.Names() {
		if err := stream.Send(s.flightInfo(name)); err != nil {
			return err
		}
	}
	return nil
}

// GetFlightInfo describes one sorting.
func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (info *flight.FlightInfo, err error) {
	defer func(start time.Time) { observe("GetFlightInfo", start, err) }(time.Now())

	name, err := descriptorName(desc)
	if err != nil {
		return nil, err
	}
	if !s.has(name) {
		return nil, ToGRPCStatus(&SortingNotFoundError{Name: name})
	}
	return s.flightInfo(name), nil
}

// GetSchema returns export.SpikeSchema for a registered sorting.
func (s *Server) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (result *flight.SchemaResult, err error) {
	defer func(start time.Time) { observe("GetSchema", start, err) }(time.Now())

	name, err := descriptorName(desc)
	if err != nil {
		return nil, err
	}
	if !s.has(name) {
		return nil, ToGRPCStatus(&SortingNotFoundError{Name: name})
	}
	return &flight.SchemaResult{Schema: flight.SerializeSchema(export.SpikeSchema, s.mem)}, nil
}

// DoGet streams the spikes selected by the ticket.
func (s *Server) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) (err error) {
	defer func(start time.Time) { observe("DoGet", start, err) }(time.Now())

	t, err := ParseTicket(tkt.GetTicket())
	if err != nil {
		return ToGRPCStatus(err)
	}
	e, release, err := s.get(t.Sorting)
	if err != nil {
		return ToGRPCStatus(err)
	}
	defer release()

	rows, err := export.Rows(e, t.Units(), t.Frames())
	if err != nil {
		s.logger.Debug().Err(err).Str("sorting", t.Sorting).Msg("DoGet rejected")
		return ToGRPCStatus(err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(export.SpikeSchema), ipc.WithAllocator(s.mem))
	defer func() { _ = w.Close() }()

	ctx := stream.Context()
	for _, span := range s.chunks.Spans(len(rows)) {
		if err := ctx.Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		rec := export.BuildRecord(s.mem, rows[span[0]:span[1]])
		err := w.Write(rec)
		rec.Release()
		if err != nil {
			return status.Errorf(codes.Internal, "failed to write record: %v", err)
		}
		metrics.DoGetChunkSizeHistogram.Observe(float64(span[1] - span[0]))
	}
	metrics.FlightRowsSentTotal.Add(float64(len(rows)))

	s.logger.Debug().Str("sorting", t.Sorting).Int("rows", len(rows)).Msg("DoGet complete")
	return nil
}

package flight

import (
	"bytes"
	"time"

	"github.com/23skdu/tdcsort/internal/export"
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/goccy/go-json"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Action types served by DoAction. ActionQueryAnalytics runs arbitrary DuckDB
// SQL on the server and is only served when enabled with WithAnalyticsQueries;
// DuckDB can read and write files there, so enable it on trusted networks only.
const (
	ActionUnits          = "units"
	ActionDescribe       = "describe"
	ActionSummary        = "summary"
	ActionQueryAnalytics = "query_analytics"
)

// SortingRequest is the body of units, describe and summary.
type SortingRequest struct {
	Sorting string `json:"sorting"`
}

// QueryRequest is the body of query_analytics. The export is visible as the
// view "spikes".
type QueryRequest struct {
	Sorting string `json:"sorting"`
	Query   string `json:"query"`
}

// Description is the describe action response.
type Description struct {
	Name              string              `json:"name"`
	SamplingFrequency float64             `json:"sampling_frequency"`
	NumUnits          int                 `json:"num_units"`
	Descriptor        *sorting.Descriptor `json:"descriptor,omitempty"`
	Properties        []string            `json:"properties,omitempty"`
}

type describer interface {
	Descriptor() sorting.Descriptor
	UnitPropertyNames() []string
}

// ListActions advertises the supported action types.
func (s *Server) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	actions := []*flight.ActionType{
		{Type: ActionUnits, Description: "unit ids of a sorting as a JSON array"},
		{Type: ActionDescribe, Description: "sampling frequency and reopen descriptor"},
		{Type: ActionSummary, Description: "per-unit spike counts as an Arrow IPC stream"},
	}
	if s.analyticsQueries {
		actions = append(actions, &flight.ActionType{
			Type:        ActionQueryAnalytics,
			Description: "DuckDB query over the spikes view as an Arrow IPC stream",
		})
	}
	for _, a := range actions {
		if err := stream.Send(a); err != nil {
			return err
		}
	}
	return nil
}

// DoAction handles units, describe, summary and query_analytics.
func (s *Server) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) (err error) {
	defer func(start time.Time) { observe("DoAction", start, err) }(time.Now())

	switch action.Type {
	case ActionUnits:
		e, name, release, err := s.requestSorting(action.Body)
		if err != nil {
			return err
		}
		defer release()
		body, err := json.Marshal(e.UnitIDs())
		if err != nil {
			return status.Errorf(codes.Internal, "failed to serialize units of %s: %v", name, err)
		}
		return stream.Send(&flight.Result{Body: body})

	case ActionDescribe:
		e, name, release, err := s.requestSorting(action.Body)
		if err != nil {
			return err
		}
		defer release()
		desc := Description{
			Name:              name,
			SamplingFrequency: e.SamplingFrequency(),
			NumUnits:          len(e.UnitIDs()),
		}
		if d, ok := e.(describer); ok {
			dd := d.Descriptor()
			desc.Descriptor = &dd
			desc.Properties = d.UnitPropertyNames()
		}
		body, err := json.Marshal(desc)
		if err != nil {
			return status.Errorf(codes.Internal, "failed to serialize description: %v", err)
		}
		return stream.Send(&flight.Result{Body: body})

	case ActionSummary:
		e, name, release, err := s.requestSorting(action.Body)
		if err != nil {
			return err
		}
		defer release()
		path, err := s.export(name, e)
		if err != nil {
			return err
		}
		rdr, cleanup, err := s.analyzer.SummaryReader(stream.Context(), path)
		if err != nil {
			s.logger.Error().Err(err).Str("sorting", name).Msg("summary query failed")
			return status.Errorf(codes.Internal, "summary failed: %v", err)
		}
		defer cleanup()
		return sendIPC(rdr, stream)

	case ActionQueryAnalytics:
		return s.handleQueryAnalytics(action, stream)

	default:
		return status.Errorf(codes.Unimplemented, "unknown action: %s", action.Type)
	}
}

func (s *Server) handleQueryAnalytics(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	if !s.analyticsQueries {
		return status.Error(codes.PermissionDenied, "query_analytics is disabled on this server")
	}
	var req QueryRequest
	if err := json.Unmarshal(action.Body, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid JSON body: %v", err)
	}
	if req.Sorting == "" || req.Query == "" {
		return status.Error(codes.InvalidArgument, "sorting and query are required")
	}

	e, release, err := s.get(req.Sorting)
	if err != nil {
		return ToGRPCStatus(err)
	}
	defer release()
	path, err := s.export(req.Sorting, e)
	if err != nil {
		return err
	}

	rdr, cleanup, err := s.analyzer.Query(stream.Context(), path, req.Query)
	if err != nil {
		s.logger.Error().Err(err).Str("sorting", req.Sorting).Msg("analytics query failed")
		return status.Errorf(codes.Internal, "query failed: %v", err)
	}
	defer cleanup()
	return sendIPC(rdr, stream)
}

// requestSorting decodes a SortingRequest and acquires its sorting; callers
// must call release.
func (s *Server) requestSorting(body []byte) (e sorting.Extractor, name string, release func(), err error) {
	var req SortingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", nil, status.Errorf(codes.InvalidArgument, "invalid JSON body: %v", err)
	}
	if req.Sorting == "" {
		return nil, "", nil, status.Error(codes.InvalidArgument, "sorting is required")
	}
	e, release, err = s.get(req.Sorting)
	if err != nil {
		return nil, "", nil, ToGRPCStatus(err)
	}
	return e, req.Sorting, release, nil
}

// export rewrites the Parquet export of e on every call, so summaries never
// read a stale file.
func (s *Server) export(name string, e sorting.Extractor) (string, error) {
	path, err := s.exportPath(name)
	if err != nil {
		return "", ToGRPCStatus(err)
	}
	if err := export.WriteParquetFile(path, e); err != nil {
		s.logger.Error().Err(err).Str("sorting", name).Str("path", path).Msg("export failed")
		return "", ToGRPCStatus(err)
	}
	return path, nil
}

// sendIPC serializes the reader as a single Arrow IPC stream result.
func sendIPC(rdr array.RecordReader, stream flight.FlightService_DoActionServer) error {
	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(rdr.Schema()))

	for rdr.Next() {
		if err := writer.Write(rdr.RecordBatch()); err != nil {
			return status.Errorf(codes.Internal, "failed to write Arrow record: %v", err)
		}
	}
	if err := rdr.Err(); err != nil {
		return status.Errorf(codes.Internal, "error reading Arrow results: %v", err)
	}
	if err := writer.Close(); err != nil {
		return status.Errorf(codes.Internal, "failed to close IPC writer: %v", err)
	}
	return stream.Send(&flight.Result{Body: buf.Bytes()})
}

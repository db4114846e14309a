// Package client is a Go client for the tdcsort Flight service.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/23skdu/tdcsort/internal/export"
	tflight "github.com/23skdu/tdcsort/internal/flight"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a flight.Client with typed calls for sortings.
type Client struct {
	flight  flight.Client
	timeout time.Duration
}

// New connects to the service at addr. Extra dial options are appended to
// the defaults (insecure transport, 100MB messages).
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1024*1024*100), // 100MB
			grpc.MaxCallSendMsgSize(1024*1024*100),
		),
	}, opts...)

	fc, err := flight.NewClientWithMiddleware(addr, nil, nil, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Client{flight: fc, timeout: 30 * time.Second}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.flight.Close()
}

// withTimeout applies the default timeout when ctx has no deadline.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ListSortings returns the names of the served sortings.
func (c *Client) ListSortings(ctx context.Context) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.flight.ListFlights(ctx, &flight.Criteria{})
	if err != nil {
		return nil, err
	}
	var names []string
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		if d := info.GetFlightDescriptor(); d != nil && len(d.Path) > 0 {
			names = append(names, d.Path[0])
		}
	}
}

// action runs a DoAction call and returns the first result body.
func (c *Client) action(ctx context.Context, typ string, req any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	stream, err := c.flight.DoAction(ctx, &flight.Action{Type: typ, Body: body})
	if err != nil {
		return nil, err
	}
	res, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// UnitIDs returns the unit ids of a sorting.
func (c *Client) UnitIDs(ctx context.Context, name string) ([]int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.action(ctx, tflight.ActionUnits, tflight.SortingRequest{Sorting: name})
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decode units: %w", err)
	}
	return ids, nil
}

// Describe returns the sampling frequency and descriptor of a sorting.
func (c *Client) Describe(ctx context.Context, name string) (tflight.Description, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.action(ctx, tflight.ActionDescribe, tflight.SortingRequest{Sorting: name})
	if err != nil {
		return tflight.Description{}, err
	}
	var desc tflight.Description
	if err := json.Unmarshal(body, &desc); err != nil {
		return tflight.Description{}, fmt.Errorf("decode description: %w", err)
	}
	return desc, nil
}

// Summary returns per-unit spike counts computed by the server.
func (c *Client) Summary(ctx context.Context, name string) ([]export.UnitSummary, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.action(ctx, tflight.ActionSummary, tflight.SortingRequest{Sorting: name})
	if err != nil {
		return nil, err
	}
	rdr, err := ipc.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	defer rdr.Release()

	var out []export.UnitSummary
	for rdr.Next() {
		rec := rdr.RecordBatch()
		if rec.NumCols() < 4 {
			return nil, fmt.Errorf("decode summary: %d columns", rec.NumCols())
		}
		cols := make([]*array.Int64, 4)
		for i := range cols {
			col, ok := rec.Column(i).(*array.Int64)
			if !ok {
				return nil, fmt.Errorf("decode summary: column %q is %s", rec.ColumnName(i), rec.Column(i).DataType())
			}
			cols[i] = col
		}
		for r := 0; r < int(rec.NumRows()); r++ {
			out = append(out, export.UnitSummary{
				UnitID:     cols[0].Value(r),
				NSpikes:    cols[1].Value(r),
				FirstFrame: cols[2].Value(r),
				LastFrame:  cols[3].Value(r),
			})
		}
	}
	return out, rdr.Err()
}

// Spikes streams the rows selected by t.
func (c *Client) Spikes(ctx context.Context, t tflight.Ticket) ([]export.SpikeRow, error) {
	raw, err := t.Encode()
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.flight.DoGet(ctx, &flight.Ticket{Ticket: raw})
	if err != nil {
		return nil, err
	}
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	defer rdr.Release()

	rows := make([]export.SpikeRow, 0)
	for rdr.Next() {
		rec := rdr.RecordBatch()
		units, ok1 := rec.Column(0).(*array.Int64)
		frames, ok2 := rec.Column(1).(*array.Int64)
		times, ok3 := rec.Column(2).(*array.Float64)
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("unexpected schema: %s", rec.Schema())
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			rows = append(rows, export.SpikeRow{UnitID: units.Value(i), Frame: frames.Value(i), TimeS: times.Value(i)})
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// SpikeTrain returns the frames of one unit within [start, end). Nil bounds
// are open.
func (c *Client) SpikeTrain(ctx context.Context, name string, unitID int64, start, end *int64) ([]int64, error) {
	rows, err := c.Spikes(ctx, tflight.Ticket{Sorting: name, UnitID: &unitID, StartFrame: start, EndFrame: end})
	if err != nil {
		return nil, err
	}
	frames := make([]int64, len(rows))
	for i, r := range rows {
		frames[i] = r.Frame
	}
	return frames, nil
}

package export

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/23skdu/tdcsort/internal/metrics"
	"github.com/apache/arrow-go/v18/arrow/array"
	duckdb "github.com/marcboeker/go-duckdb"
)

// SpikesView is the view name exported files are registered under.
const SpikesView = "spikes"

const summaryQuery = `SELECT unit_id,
	count(*) AS n_spikes,
	min(frame) AS first_frame,
	max(frame) AS last_frame
FROM spikes
GROUP BY unit_id
ORDER BY unit_id`

// Analyzer runs analytical queries on Parquet exports with an in-memory DuckDB.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Query registers parquetPath as the view "spikes" and executes query.
// Returns a RecordReader and a cleanup function. The caller must call cleanup() when done.
func (a *Analyzer) Query(ctx context.Context, parquetPath, query string) (rdr array.RecordReader, cleanup func(), err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.AnalyticsQueriesTotal.WithLabelValues(status).Inc()
	}()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	// The Arrow interface needs the driver connection the view was created on
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open conn: %w", err)
	}

	var ar *duckdb.Arrow
	err = conn.Raw(func(c interface{}) error {
		dc, ok := c.(driver.Conn)
		if !ok {
			return fmt.Errorf("not a duckdb driver connection")
		}
		var err error
		ar, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to init arrow: %w", err)
	}

	quoted := strings.ReplaceAll(parquetPath, "'", "''")
	createViewSQL := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM read_parquet('%s')", SpikesView, quoted)
	if _, err := conn.ExecContext(ctx, createViewSQL); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create view for export: %w", err)
	}

	rdr, err = ar.QueryContext(ctx, query)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("query execution failed: %w", err)
	}

	cleanup = func() {
		rdr.Release()
		_ = conn.Close()
		_ = db.Close()
	}
	return rdr, cleanup, nil
}

// UnitSummary is one row of Summary.
type UnitSummary struct {
	UnitID     int64
	NSpikes    int64
	FirstFrame int64
	LastFrame  int64
}

// SummaryReader runs the per-unit summary query and returns its Arrow stream.
func (a *Analyzer) SummaryReader(ctx context.Context, parquetPath string) (array.RecordReader, func(), error) {
	return a.Query(ctx, parquetPath, summaryQuery)
}

// Summary returns spike count and frame extent per unit, ordered by unit id.
func (a *Analyzer) Summary(ctx context.Context, parquetPath string) ([]UnitSummary, error) {
	rdr, cleanup, err := a.SummaryReader(ctx, parquetPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var out []UnitSummary
	for rdr.Next() {
		rec := rdr.RecordBatch()
		cols := make([]*array.Int64, rec.NumCols())
		for i := range cols {
			c, ok := rec.Column(i).(*array.Int64)
			if !ok {
				return nil, fmt.Errorf("summary column %q is %s, want int64", rec.ColumnName(i), rec.Column(i).DataType())
			}
			cols[i] = c
		}
		for r := 0; r < int(rec.NumRows()); r++ {
			out = append(out, UnitSummary{
				UnitID:     cols[0].Value(r),
				NSpikes:    cols[1].Value(r),
				FirstFrame: cols[2].Value(r),
				LastFrame:  cols[3].Value(r),
			})
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Package export converts sortings into Arrow records and Parquet files and
// runs DuckDB queries over the exported files.
package export

import (
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// SpikeSchema is the row layout of exported spike trains.
var SpikeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "unit_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "frame", Type: arrow.PrimitiveTypes.Int64},
	{Name: "time_s", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// SpikeRow is one exported spike.
type SpikeRow struct {
	UnitID int64   `parquet:"unit_id"`
	Frame  int64   `parquet:"frame"`
	TimeS  float64 `parquet:"time_s"`
}

// Rows collects the spikes of unitIDs (all units when empty) in unit order,
// then spike order, clipped to frames.
func Rows(e sorting.Extractor, unitIDs []int64, frames sorting.FrameRange) ([]SpikeRow, error) {
	if len(unitIDs) == 0 {
		unitIDs = e.UnitIDs()
	}
	fs := e.SamplingFrequency()

	var rows []SpikeRow
	for _, u := range unitIDs {
		train, err := e.SpikeTrain(u, frames.Options()...)
		if err != nil {
			return nil, err
		}
		for _, f := range train {
			rows = append(rows, SpikeRow{UnitID: u, Frame: f, TimeS: float64(f) / fs})
		}
	}
	return rows, nil
}

// BuildRecord builds a SpikeSchema record from rows. The caller must Release it.
func BuildRecord(mem memory.Allocator, rows []SpikeRow) arrow.RecordBatch {
	b := array.NewRecordBuilder(mem, SpikeSchema)
	defer b.Release()
	b.Reserve(len(rows))

	units := b.Field(0).(*array.Int64Builder)
	frames := b.Field(1).(*array.Int64Builder)
	times := b.Field(2).(*array.Float64Builder)
	for _, r := range rows {
		units.Append(r.UnitID)
		frames.Append(r.Frame)
		times.Append(r.TimeS)
	}
	return b.NewRecordBatch()
}

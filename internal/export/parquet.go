package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/23skdu/tdcsort/internal/metrics"
	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/parquet-go/parquet-go"
)

// WriteParquet writes every spike of e to w as zstd compressed Parquet.
func WriteParquet(w io.Writer, e sorting.Extractor) error {
	rows, err := Rows(e, nil, sorting.FrameRange{})
	if err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[SpikeRow](w, parquet.Compression(&parquet.Zstd))
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			_ = pw.Close()
			return err
		}
	}
	if err := pw.Close(); err != nil {
		return err
	}
	metrics.ExportRowsTotal.Add(float64(len(rows)))
	return nil
}

// WriteParquetFile exports e to path through a temporary file in the same directory.
func WriteParquetFile(path string, e sorting.Extractor) error {
	start := time.Now()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := WriteParquet(tmp, e); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if fi, err := tmp.Stat(); err == nil {
		metrics.ExportSizeBytes.Observe(float64(fi.Size()))
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}

	metrics.ExportDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// ReadParquet reads rows written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]SpikeRow, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, err
	}

	pr := parquet.NewGenericReader[SpikeRow](pf)
	defer func() { _ = pr.Close() }()

	rows := make([]SpikeRow, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return rows[:n], nil
}

// ReadParquetFile opens path and reads its rows.
func ReadParquetFile(path string) ([]SpikeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return ReadParquet(f, fi.Size())
}

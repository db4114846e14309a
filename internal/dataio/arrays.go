package dataio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/23skdu/tdcsort/internal/metrics"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
)

const arraysFile = "arrays.json"

// ArrayAttr is one entry of arrays.json.
type ArrayAttr struct {
	DType json.RawMessage `json:"dtype"`
	Shape []int           `json:"shape"`
}

// arrayCollection is a directory of raw arrays described by arrays.json.
type arrayCollection struct {
	dir   string
	attrs map[string]ArrayAttr
}

func loadArrayCollection(dir string) (*arrayCollection, error) {
	path := filepath.Join(dir, arraysFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError("array", path, err)
	}

	attrs := make(map[string]ArrayAttr)
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, newError("array", path, fmt.Errorf("%w: %v", ErrCorruptArray, err))
	}
	return &arrayCollection{dir: dir, attrs: attrs}, nil
}

// has reports whether arrays.json lists name.
func (c *arrayCollection) has(name string) bool {
	_, ok := c.attrs[name]
	return ok
}

// readTable maps <name>.raw and decodes it into a record batch. Zero-row
// arrays are decoded without opening the file.
// The caller owns the returned batch.
func (c *arrayCollection) readTable(mem memory.Allocator, name string) (rec arrow.RecordBatch, err error) {
	path := filepath.Join(c.dir, name+".raw")
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.BackendReadsTotal.WithLabelValues(name, status).Inc()
		metrics.BackendReadDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	attr, ok := c.attrs[name]
	if !ok {
		return nil, newError("array", path, fmt.Errorf("%w: %s", ErrArrayNotFound, name))
	}
	if len(attr.Shape) != 1 {
		return nil, newError("array", path, fmt.Errorf("%w: shape %v", ErrUnsupportedDType, attr.Shape))
	}

	dt, err := ParseDType(attr.DType, name)
	if err != nil {
		return nil, newError("array", path, err)
	}
	// tridesclous leaves no raw file behind for empty arrays.
	if attr.Shape[0] == 0 {
		return decodeRecords(mem, dt, nil, 0)
	}

	data, release, err := mapFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError("array", path, fmt.Errorf("%w: %s", ErrArrayNotFound, name))
		}
		return nil, newError("array", path, err)
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			if rec != nil {
				rec.Release()
				rec = nil
			}
			err = newError("array", path, rerr)
		}
	}()

	rec, err = decodeRecords(mem, dt, data, attr.Shape[0])
	if err != nil {
		return nil, newError("array", path, err)
	}
	metrics.BackendReadBytesTotal.WithLabelValues(name).Add(float64(len(data)))
	return rec, nil
}

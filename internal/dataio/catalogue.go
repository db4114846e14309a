package dataio

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
)

const (
	catalogueFile = "catalogue.json"
	clustersName  = "clusters"
)

// Catalogue is a named sorting result for one channel group.
type Catalogue struct {
	Name    string
	ChanGrp int
	// Params holds catalogue.json, empty when the file is absent.
	Params map[string]any
	// Clusters has one row per cluster with at least a cluster_label column.
	Clusters arrow.RecordBatch
}

// Release frees the cluster table.
func (c *Catalogue) Release() {
	if c.Clusters != nil {
		c.Clusters.Release()
		c.Clusters = nil
	}
}

// LoadCatalogue reads catalogues/<name> of group g.
func (d *DataIO) LoadCatalogue(name string, g int) (*Catalogue, error) {
	if d.closed.Load() {
		return nil, newError("catalogue", d.dir, ErrClosed)
	}
	if _, err := d.ChannelGroup(g); err != nil {
		return nil, err
	}

	dir := d.catalogueDir(name, g)
	cat := &Catalogue{Name: name, ChanGrp: g, Params: map[string]any{}}

	path := filepath.Join(dir, catalogueFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cat.Params); err != nil {
			return nil, newError("catalogue", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, newError("catalogue", path, err)
	}

	ac, err := loadArrayCollection(dir)
	if err != nil {
		return nil, err
	}
	cat.Clusters, err = ac.readTable(d.mem, clustersName)
	if err != nil {
		return nil, err
	}
	return cat, nil
}

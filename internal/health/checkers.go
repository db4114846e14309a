package health

import (
	"context"
	"fmt"
	"os"
	"time"
)

// SortingLister is the view of the Flight server the sortings checker needs.
type SortingLister interface {
	Names() []string
}

// SortingsChecker is degraded while no sorting is registered.
type SortingsChecker struct {
	lister SortingLister
}

func NewSortingsChecker(lister SortingLister) *SortingsChecker {
	return &SortingsChecker{lister: lister}
}

func (sc *SortingsChecker) Name() string {
	return "sortings"
}

func (sc *SortingsChecker) Check(ctx context.Context) *ComponentHealth {
	names := sc.lister.Names()
	ch := &ComponentHealth{
		Name:        sc.Name(),
		Status:      StatusHealthy,
		LastChecked: time.Now(),
		Metadata: map[string]any{
			"count":    len(names),
			"sortings": names,
		},
	}
	if len(names) == 0 {
		ch.Status = StatusDegraded
		ch.Message = "no sortings registered"
	}
	return ch
}

// ExportDirChecker verifies the export directory accepts new files.
type ExportDirChecker struct {
	dir string
}

func NewExportDirChecker(dir string) *ExportDirChecker {
	return &ExportDirChecker{dir: dir}
}

func (ec *ExportDirChecker) Name() string {
	return "export_dir"
}

func (ec *ExportDirChecker) Check(ctx context.Context) *ComponentHealth {
	ch := &ComponentHealth{
		Name:        ec.Name(),
		Status:      StatusHealthy,
		LastChecked: time.Now(),
		Metadata:    map[string]any{"dir": ec.dir},
	}
	if err := probeWritable(ec.dir); err != nil {
		ch.Status = StatusUnhealthy
		ch.Message = err.Error()
	}
	return ch
}

func probeWritable(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

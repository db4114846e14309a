package sorting

import (
	"slices"

	"github.com/apache/arrow-go/v18/arrow/array"
)

// UnitPropertyNames lists the cluster table columns other than cluster_label.
func (s *Tridesclous) UnitPropertyNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	var names []string
	for _, f := range s.clusters.Schema().Fields() {
		if f.Name != ColClusterLabel {
			names = append(names, f.Name)
		}
	}
	return names
}

// UnitProperty returns the cluster table value of column name for unitID.
// Null cells return nil.
func (s *Tridesclous) UnitProperty(unitID int64, name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !slices.Contains(s.unitIDs(), unitID) {
		return nil, &InvalidUnitIDError{UnitID: unitID}
	}
	if name == ColClusterLabel {
		return nil, &UnknownPropertyError{Name: name}
	}
	idx := s.clusters.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, &UnknownPropertyError{Name: name}
	}

	labels, _ := int64Column(s.clusters, "cluster", ColClusterLabel)
	row := -1
	for i := 0; i < labels.Len(); i++ {
		if !labels.IsNull(i) && labels.Value(i) == unitID {
			row = i
			break
		}
	}

	col := s.clusters.Column(idx[0])
	if col.IsNull(row) {
		return nil, nil
	}
	switch c := col.(type) {
	case *array.Int64:
		return c.Value(row), nil
	case *array.Uint64:
		return c.Value(row), nil
	case *array.Float64:
		return c.Value(row), nil
	case *array.Boolean:
		return c.Value(row), nil
	case *array.String:
		return c.Value(row), nil
	default:
		return col.GetOneForMarshal(row), nil
	}
}

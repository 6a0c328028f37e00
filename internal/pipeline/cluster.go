package pipeline

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// AssignClusters attaches the cluster ids computed by the external toolkit
// for one pass. Every cell must receive an id; assignments for cells outside
// the table fail with a ForeignCellError. Annotations are cleared because
// they belong to a previous pass.
func AssignClusters(table *types.CellTable, pass string, assignments map[string]int) (*types.CellTable, error) {
	idx := table.Index()
	var foreign []string
	for id := range assignments {
		if _, ok := idx[id]; !ok {
			foreign = append(foreign, id)
		}
	}
	if len(foreign) > 0 {
		sort.Strings(foreign)
		return nil, &types.ForeignCellError{CellIDs: foreign}
	}

	out := table.Clone()
	out.Pass = pass
	for i := range out.Cells {
		id, ok := assignments[out.Cells[i].CellID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrUnassignedCell, out.Cells[i].CellID)
		}
		out.Cells[i].ClusterID = types.IntPtr(id)
		out.Cells[i].Annotation = types.Annotation{}
	}
	return out, nil
}

// SelectClusters returns the cells of table belonging to any of clusterIDs,
// in table order. The result is the population of a subcluster pass.
func SelectClusters(table *types.CellTable, clusterIDs ...int) *types.CellTable {
	want := make(map[int]bool, len(clusterIDs))
	for _, id := range clusterIDs {
		want[id] = true
	}
	out := &types.CellTable{Tissue: table.Tissue, Pass: table.Pass}
	for _, c := range table.Cells {
		if c.ClusterID != nil && want[*c.ClusterID] {
			out.Cells = append(out.Cells, c.Clone())
		}
	}
	return out
}

// Subset returns the cells of table with the given ids, in table order.
// Ids absent from table fail with a ForeignCellError.
func Subset(table *types.CellTable, cellIDs []string) (*types.CellTable, error) {
	idx := table.Index()
	want := make(map[string]bool, len(cellIDs))
	var foreign []string
	for _, id := range cellIDs {
		if _, ok := idx[id]; !ok {
			foreign = append(foreign, id)
			continue
		}
		want[id] = true
	}
	if len(foreign) > 0 {
		return nil, &types.ForeignCellError{CellIDs: foreign}
	}
	out := &types.CellTable{Tissue: table.Tissue, Pass: table.Pass}
	for _, c := range table.Cells {
		if want[c.CellID] {
			out.Cells = append(out.Cells, c.Clone())
		}
	}
	return out, nil
}

package pipeline

import (
	"github.com/mesh-intelligence/tabula/internal/matrix"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// FilterCells drops cells with fewer than MinGenes detected genes or fewer
// than MinReads reads, then drops genes detected in fewer than MinCells of
// the remaining cells. Zero thresholds are disabled. The removed cell ids are
// returned in table order.
func FilterCells(table *types.CellTable, m *matrix.Matrix, qc types.QCConfig) (*types.CellTable, *matrix.Matrix, []string, error) {
	out := &types.CellTable{Tissue: table.Tissue, Pass: table.Pass}
	var keep, dropped []string
	for _, c := range table.Cells {
		if c.Metrics.NGenes < qc.MinGenes || c.Metrics.NReads < qc.MinReads {
			dropped = append(dropped, c.CellID)
			continue
		}
		out.Cells = append(out.Cells, c.Clone())
		keep = append(keep, c.CellID)
	}
	filtered, err := m.Select(keep)
	if err != nil {
		return nil, nil, nil, err
	}
	if qc.MinCells > 0 {
		filtered = filtered.FilterGenes(qc.MinCells)
	}
	return out, filtered, dropped, nil
}

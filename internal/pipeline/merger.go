package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/tabula/internal/matrix"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// PlateBarcode extracts the plate barcode from a cell id: the id is split on
// "_" and the first token is split on "."; the second token is the barcode.
// For "A1.B000610.3_56_F.1.1" that is "B000610".
func PlateBarcode(cellID string) (string, error) {
	head, _, ok := strings.Cut(cellID, "_")
	if !ok {
		return "", &types.CellIDError{CellID: cellID}
	}
	parts := strings.Split(head, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", &types.CellIDError{CellID: cellID}
	}
	return parts[1], nil
}

// MergeOptions tunes the derived metrics computed during the merge.
type MergeOptions struct {
	RiboPrefixes []string
}

// Merge joins plate metadata onto every cell of m and returns the cells as a
// table sorted by cell id, together with a copy of m whose cell axis follows
// the same order. Every cell must match a plate: unmatched cells are
// collected and reported together in a MetadataJoinError, and no result is
// returned. A malformed cell id fails with a CellIDError. Neither input is
// modified.
func Merge(tissue string, m *matrix.Matrix, plates *types.PlateTable, opts MergeOptions) (*matrix.Matrix, *types.CellTable, error) {
	ids := m.CellIDs()
	table := &types.CellTable{
		Tissue: tissue,
		Cells:  make([]types.CellRecord, 0, len(ids)),
	}
	var unmatched []string
	for _, id := range ids {
		barcode, err := PlateBarcode(id)
		if err != nil {
			return nil, nil, err
		}
		plate, ok := plates.Get(barcode)
		if !ok {
			unmatched = append(unmatched, id)
			continue
		}
		met, _ := m.Metrics(id, opts.RiboPrefixes)
		table.Cells = append(table.Cells, types.CellRecord{
			CellID:       id,
			PlateBarcode: barcode,
			PlateFields:  copyFields(plate.Fields),
			Metrics:      met,
		})
	}
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		return nil, nil, &types.MetadataJoinError{CellIDs: unmatched}
	}

	table.SortByCellID()
	ordered, err := m.Select(table.CellIDs())
	if err != nil {
		return nil, nil, fmt.Errorf("reorder matrix: %w", err)
	}
	return ordered, table, nil
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

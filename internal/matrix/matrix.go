// Package matrix holds gene-by-cell read count matrices. Counts are stored
// cell-major so that reordering or subsetting cells is a slice shuffle.
package matrix

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Matrix errors.
var (
	ErrShape         = errors.New("matrix shape mismatch")
	ErrDuplicateGene = errors.New("duplicate gene name")
	ErrUnknownCell   = errors.New("cell not in matrix")
	ErrNegative      = errors.New("negative read count")
)

// Matrix is an immutable gene-by-cell count matrix with spike-in rows already
// removed. The per-cell spike-in totals are kept so percent_ercc can be
// derived after the strip.
type Matrix struct {
	genes    []string
	cells    []string
	cols     [][]int64 // cols[cell][gene]
	spikeIns []int64   // spike-in reads per cell
	cellIdx  map[string]int
	geneIdx  map[string]int
}

// New builds a matrix from cell-major columns. spikeIns may be nil.
func New(genes, cells []string, cols [][]int64, spikeIns []int64) (*Matrix, error) {
	if len(cols) != len(cells) {
		return nil, fmt.Errorf("%w: %d cells, %d columns", ErrShape, len(cells), len(cols))
	}
	if spikeIns == nil {
		spikeIns = make([]int64, len(cells))
	}
	if len(spikeIns) != len(cells) {
		return nil, fmt.Errorf("%w: %d cells, %d spike-in totals", ErrShape, len(cells), len(spikeIns))
	}
	m := &Matrix{
		genes:    append([]string(nil), genes...),
		cells:    append([]string(nil), cells...),
		cols:     make([][]int64, len(cols)),
		spikeIns: append([]int64(nil), spikeIns...),
		cellIdx:  make(map[string]int, len(cells)),
		geneIdx:  make(map[string]int, len(genes)),
	}
	for i, g := range m.genes {
		if _, ok := m.geneIdx[g]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateGene, g)
		}
		m.geneIdx[g] = i
	}
	for i, c := range m.cells {
		if _, ok := m.cellIdx[c]; ok {
			return nil, fmt.Errorf("%w: %q", types.ErrDuplicateCell, c)
		}
		m.cellIdx[c] = i
		if len(cols[i]) != len(genes) {
			return nil, fmt.Errorf("%w: cell %q has %d counts for %d genes", ErrShape, c, len(cols[i]), len(genes))
		}
		col := append([]int64(nil), cols[i]...)
		for _, v := range col {
			if v < 0 {
				return nil, fmt.Errorf("%w in cell %q", ErrNegative, c)
			}
		}
		m.cols[i] = col
	}
	return m, nil
}

// Genes returns the gene names in row order.
func (m *Matrix) Genes() []string { return append([]string(nil), m.genes...) }

// CellIDs returns the cell ids in column order.
func (m *Matrix) CellIDs() []string { return append([]string(nil), m.cells...) }

// NumGenes returns the number of gene rows.
func (m *Matrix) NumGenes() int { return len(m.genes) }

// NumCells returns the number of cell columns.
func (m *Matrix) NumCells() int { return len(m.cells) }

// Count returns the reads of gene in cell, or false when either is unknown.
func (m *Matrix) Count(cellID, gene string) (int64, bool) {
	ci, ok := m.cellIdx[cellID]
	if !ok {
		return 0, false
	}
	gi, ok := m.geneIdx[gene]
	if !ok {
		return 0, false
	}
	return m.cols[ci][gi], true
}

// Column returns the counts of one cell keyed by gene.
func (m *Matrix) Column(cellID string) (map[string]int64, bool) {
	ci, ok := m.cellIdx[cellID]
	if !ok {
		return nil, false
	}
	out := make(map[string]int64, len(m.genes))
	for gi, g := range m.genes {
		out[g] = m.cols[ci][gi]
	}
	return out, true
}

// Metrics derives the quality measures of one cell. Ribosomal genes are the
// genes starting with any of riboPrefixes.
func (m *Matrix) Metrics(cellID string, riboPrefixes []string) (types.Metrics, bool) {
	ci, ok := m.cellIdx[cellID]
	if !ok {
		return types.Metrics{}, false
	}
	var met types.Metrics
	var ribo int64
	for gi, v := range m.cols[ci] {
		if v == 0 {
			continue
		}
		met.NReads += v
		met.NGenes++
		if hasAnyPrefix(m.genes[gi], riboPrefixes) {
			ribo += v
		}
	}
	if total := met.NReads + m.spikeIns[ci]; total > 0 {
		met.PercentERCC = float64(m.spikeIns[ci]) / float64(total)
	}
	if met.NReads > 0 {
		met.PercentRibo = float64(ribo) / float64(met.NReads)
	}
	return met, true
}

// Select returns a new matrix holding exactly the given cells in the given
// order. Unknown ids fail with ErrUnknownCell.
func (m *Matrix) Select(cellIDs []string) (*Matrix, error) {
	cols := make([][]int64, len(cellIDs))
	spikes := make([]int64, len(cellIDs))
	for i, id := range cellIDs {
		ci, ok := m.cellIdx[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCell, id)
		}
		cols[i] = m.cols[ci]
		spikes[i] = m.spikeIns[ci]
	}
	return New(m.genes, cellIDs, cols, spikes)
}

// FilterGenes returns a new matrix without the genes detected in fewer than
// minCells cells. minCells <= 0 returns a copy.
func (m *Matrix) FilterGenes(minCells int) *Matrix {
	keep := make([]int, 0, len(m.genes))
	for gi := range m.genes {
		n := 0
		for _, col := range m.cols {
			if col[gi] > 0 {
				n++
			}
		}
		if n >= minCells {
			keep = append(keep, gi)
		}
	}
	genes := make([]string, len(keep))
	for i, gi := range keep {
		genes[i] = m.genes[gi]
	}
	cols := make([][]int64, len(m.cols))
	for ci, col := range m.cols {
		out := make([]int64, len(keep))
		for i, gi := range keep {
			out[i] = col[gi]
		}
		cols[ci] = out
	}
	// Shapes are consistent by construction.
	filtered, _ := New(genes, m.cells, cols, m.spikeIns)
	return filtered
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

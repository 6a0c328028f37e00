package matrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mesh-intelligence/tabula/internal/tabular"
)

// geneHeader heads the gene-name column of written matrices.
const geneHeader = "gene"

// Write emits m in the layout Read accepts, genes as rows and cells as
// columns. Spike-in rows are not written.
func Write(w io.Writer, m *Matrix, comma rune) error {
	cw := csv.NewWriter(w)
	if comma != 0 {
		cw.Comma = comma
	}
	header := append([]string{geneHeader}, m.cells...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(m.cells)+1)
	for gi, g := range m.genes {
		row[0] = g
		for ci := range m.cells {
			row[ci+1] = strconv.FormatInt(m.cols[ci][gi], 10)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes m to path, picking the delimiter from the extension.
func WriteFile(path string, m *Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Write(f, m, tabular.Comma(path)); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

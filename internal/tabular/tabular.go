// Package tabular reads and writes the small delimited files exchanged with
// the external analysis toolkit: plate metadata, cluster assignments,
// embedding coordinates and cell id lists.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// ErrHeader is returned when a file lacks the columns it needs.
var ErrHeader = errors.New("missing or invalid header")

// Point is a 2-D embedding coordinate.
type Point struct {
	X, Y float64
}

// Comma picks the delimiter for path by extension: tab for .tsv/.txt/.tab,
// comma otherwise.
func Comma(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt", ".tab":
		return '\t'
	default:
		return ','
	}
}

func newReader(r io.Reader, comma rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true
	return cr
}

// readAll reads the header and every record.
func readAll(r io.Reader, comma rune) ([]string, [][]string, error) {
	cr := newReader(r, comma)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrHeader
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	header = append([]string(nil), header...)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading rows: %w", err)
	}
	return header, rows, nil
}

// ReadPlates parses plate metadata. The first column is the plate barcode
// whatever its header says; it is renamed to plate.barcode and the other
// columns become plate fields.
func ReadPlates(r io.Reader, comma rune) (*types.PlateTable, error) {
	header, rows, err := readAll(r, comma)
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, ErrHeader
	}
	columns := header[1:]
	plates := make([]types.PlateMetadata, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			fields[col] = row[i+1]
		}
		plates = append(plates, types.PlateMetadata{Barcode: strings.TrimSpace(row[0]), Fields: fields})
	}
	return types.NewPlateTable(columns, plates)
}

// ReadAssignments parses "cell_id,cluster" rows into a map. Any header is
// accepted; the first two columns are used.
func ReadAssignments(r io.Reader, comma rune) (map[string]int, error) {
	header, rows, err := readAll(r, comma)
	if err != nil {
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: want cell_id and cluster columns", ErrHeader)
	}
	out := make(map[string]int, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row[0])
		cluster, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: cluster %q: %w", i+2, row[1], err)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%w: %q", types.ErrDuplicateCell, id)
		}
		out[id] = cluster
	}
	return out, nil
}

// ReadEmbedding parses "cell_id,x,y" rows.
func ReadEmbedding(r io.Reader, comma rune) (map[string]Point, error) {
	header, rows, err := readAll(r, comma)
	if err != nil {
		return nil, err
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: want cell_id, x and y columns", ErrHeader)
	}
	out := make(map[string]Point, len(rows))
	for i, row := range rows {
		x, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: x %q: %w", i+2, row[1], err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: y %q: %w", i+2, row[2], err)
		}
		out[strings.TrimSpace(row[0])] = Point{X: x, Y: y}
	}
	return out, nil
}

// ReadCellIDs parses a one-column list of cell ids with a header row.
func ReadCellIDs(r io.Reader) ([]string, error) {
	_, rows, err := readAll(r, ',')
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, strings.TrimSpace(row[0]))
	}
	return ids, nil
}

// WriteCellIDs writes cell ids under a "cell_id" header.
func WriteCellIDs(w io.Writer, ids []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"cell_id"}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := cw.Write([]string{id}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// openWith opens path and applies read with the delimiter of its extension.
func openWith[T any](path string, read func(io.Reader, rune) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	v, err := read(f, Comma(path))
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ReadPlatesFile reads a plate metadata file.
func ReadPlatesFile(path string) (*types.PlateTable, error) {
	return openWith(path, ReadPlates)
}

// ReadAssignmentsFile reads a cluster assignment file.
func ReadAssignmentsFile(path string) (map[string]int, error) {
	return openWith(path, ReadAssignments)
}

// ReadEmbeddingFile reads an embedding file.
func ReadEmbeddingFile(path string) (map[string]Point, error) {
	return openWith(path, ReadEmbedding)
}

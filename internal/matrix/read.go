package matrix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/tabula/internal/tabular"
)

// ErrEmpty is returned for a matrix file without a header row.
var ErrEmpty = errors.New("empty count matrix")

// ReadOptions controls parsing of a delimited count matrix.
type ReadOptions struct {
	Comma         rune   // Field delimiter; ',' when zero.
	SpikeInPrefix string // Gene rows with this prefix are spike-ins; none when empty.
}

// Read parses a gene-by-cell matrix: the header row holds cell ids (its first
// field is ignored) and each further row is a gene name followed by one count
// per cell. Spike-in rows are summed per cell and dropped.
func Read(r io.Reader, opts ReadOptions) (*Matrix, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header has no cell columns", ErrShape)
	}
	cells := append([]string(nil), header[1:]...)
	cr.FieldsPerRecord = len(header)

	var genes []string
	cols := make([][]int64, len(cells))
	spikes := make([]int64, len(cells))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}
		gene := rec[0]
		spike := opts.SpikeInPrefix != "" && strings.HasPrefix(gene, opts.SpikeInPrefix)
		if !spike {
			genes = append(genes, gene)
		}
		for ci, field := range rec[1:] {
			v, err := parseCount(field)
			if err != nil {
				return nil, fmt.Errorf("line %d gene %q cell %q: %w", line, gene, cells[ci], err)
			}
			if spike {
				spikes[ci] += v
			} else {
				cols[ci] = append(cols[ci], v)
			}
		}
	}
	for ci := range cols {
		if cols[ci] == nil {
			cols[ci] = []int64{}
		}
	}
	return New(genes, cells, cols, spikes)
}

// ReadFile opens path and parses it with Read, picking the delimiter from
// the file extension.
func ReadFile(path, spikeInPrefix string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, ReadOptions{Comma: tabular.Comma(path), SpikeInPrefix: spikeInPrefix})
}

// parseCount accepts integers and integral floats ("12", "12.0").
func parseCount(field string) (int64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(field, 10, 64); err == nil {
		if v < 0 {
			return 0, ErrNegative
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", field)
	}
	if f < 0 {
		return 0, ErrNegative
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("non-integral count %q", field)
	}
	return int64(f), nil
}

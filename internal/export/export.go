// Package export renders an annotated cell table as the published CSV and
// optionally uploads it to an artifact store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/tabula/internal/artifact"
	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Header is the column layout of the exported CSV.
var Header = []string{
	"cell",
	types.PlateBarcodeColumn,
	"cell_ontology_class",
	"cell_ontology_id",
	"free_annotation",
	"tSNE_1",
	"tSNE_2",
}

// ContentType is attached to published exports.
const ContentType = "text/csv"

// WriteCSV writes one row per cell in table order. A nil embedding leaves
// the coordinate columns empty; otherwise every cell needs coordinates and
// the missing ones fail with ErrMissingEmbedding. Null annotations are
// written as empty fields.
func WriteCSV(w io.Writer, table *types.CellTable, embedding map[string]tabular.Point) error {
	if table == nil {
		return fmt.Errorf("export: %w", types.ErrInvalidData)
	}
	if embedding != nil {
		var missing []string
		for _, c := range table.Cells {
			if _, ok := embedding[c.CellID]; !ok {
				missing = append(missing, c.CellID)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", types.ErrMissingEmbedding, strings.Join(missing, ", "))
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, c := range table.Cells {
		x, y := "", ""
		if p, ok := embedding[c.CellID]; ok {
			x = formatFloat(p.X)
			y = formatFloat(p.Y)
		}
		row := []string{
			c.CellID,
			c.PlateBarcode,
			types.Deref(c.CellOntologyClass),
			types.Deref(c.CellOntologyID),
			types.Deref(c.FreeAnnotation),
			x,
			y,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Key is the default artifact key of an export: <tissue>/<pass>.csv.
func Key(table *types.CellTable) string {
	pass := table.Pass
	if pass == "" {
		pass = types.TopPass
	}
	return table.Tissue + "/" + pass + ".csv"
}

// Publish renders table and stores it under key.
func Publish(ctx context.Context, store artifact.Store, key string, table *types.CellTable, embedding map[string]tabular.Point) (artifact.Info, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, table, embedding); err != nil {
		return artifact.Info{}, err
	}
	info, err := store.Put(ctx, key, &buf, artifact.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			"tissue": table.Tissue,
			"pass":   table.Pass,
			"cells":  strconv.Itoa(table.Len()),
		},
	})
	if err != nil {
		return artifact.Info{}, fmt.Errorf("publishing %s: %w", key, err)
	}
	return info, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

package types

import "fmt"

// PlateBarcodeColumn is the name given to the first column of a plate
// metadata file.
const PlateBarcodeColumn = "plate.barcode"

// PlateMetadata is one physical plate and its plate-level covariates
// (mouse id, sex, sort date and so on).
type PlateMetadata struct {
	Barcode string            `json:"plate_barcode"`
	Fields  map[string]string `json:"fields"`
}

// PlateTable holds plates keyed by their unique barcode. Columns keeps the
// covariate column order of the source file, excluding the barcode column.
type PlateTable struct {
	Columns []string
	plates  map[string]PlateMetadata
	order   []string
}

// NewPlateTable builds a table from plate rows. Returns ErrDuplicatePlate if
// two rows share a barcode and ErrInvalidData if a barcode is empty.
func NewPlateTable(columns []string, rows []PlateMetadata) (*PlateTable, error) {
	t := &PlateTable{
		Columns: append([]string(nil), columns...),
		plates:  make(map[string]PlateMetadata, len(rows)),
	}
	for _, row := range rows {
		if row.Barcode == "" {
			return nil, ErrInvalidData
		}
		if _, ok := t.plates[row.Barcode]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePlate, row.Barcode)
		}
		t.plates[row.Barcode] = row
		t.order = append(t.order, row.Barcode)
	}
	return t, nil
}

// Get returns the plate with the given barcode.
func (t *PlateTable) Get(barcode string) (PlateMetadata, bool) {
	p, ok := t.plates[barcode]
	return p, ok
}

// Len returns the number of plates.
func (t *PlateTable) Len() int {
	return len(t.order)
}

// Barcodes returns the plate barcodes in source order.
func (t *PlateTable) Barcodes() []string {
	return append([]string(nil), t.order...)
}

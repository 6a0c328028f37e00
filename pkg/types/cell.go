package types

import (
	"slices"
	"sort"
)

// Metrics holds the per-cell quality measures derived from the count matrix.
// They are computed during ingestion and never set by the analyst.
type Metrics struct {
	PercentERCC float64 `json:"percent_ercc"` // Spike-in reads over all reads, 0..1.
	PercentRibo float64 `json:"percent_ribo"` // Ribosomal reads over non-spike-in reads, 0..1.
	NReads      int64   `json:"n_reads"`      // Non-spike-in reads.
	NGenes      int     `json:"n_genes"`      // Genes with at least one read.
}

// Annotation is the pair of label systems carried by a cell: an unconstrained
// free-text label and a controlled ontology class with its resolved id.
// A nil field means undetermined.
type Annotation struct {
	FreeAnnotation    *string `json:"free_annotation"`
	CellOntologyClass *string `json:"cell_ontology_class"`
	CellOntologyID    *string `json:"cell_ontology_id"`
}

// Clone returns a copy that shares no pointers with a.
func (a Annotation) Clone() Annotation {
	return Annotation{
		FreeAnnotation:    cloneString(a.FreeAnnotation),
		CellOntologyClass: cloneString(a.CellOntologyClass),
		CellOntologyID:    cloneString(a.CellOntologyID),
	}
}

// Equal reports whether both annotations carry the same values.
func (a Annotation) Equal(b Annotation) bool {
	return equalString(a.FreeAnnotation, b.FreeAnnotation) &&
		equalString(a.CellOntologyClass, b.CellOntologyClass) &&
		equalString(a.CellOntologyID, b.CellOntologyID)
}

// CellRecord is one sequenced cell.
type CellRecord struct {
	CellID       string            `json:"cell_id"`
	PlateBarcode string            `json:"plate_barcode"`
	PlateFields  map[string]string `json:"plate_fields"`
	Metrics      Metrics           `json:"metrics"`
	ClusterID    *int              `json:"cluster_id"` // Set by the external clustering of the current pass.
	Annotation
}

// Clone returns a deep copy of the record.
func (c CellRecord) Clone() CellRecord {
	out := c
	if c.PlateFields != nil {
		out.PlateFields = make(map[string]string, len(c.PlateFields))
		for k, v := range c.PlateFields {
			out.PlateFields[k] = v
		}
	}
	if c.ClusterID != nil {
		id := *c.ClusterID
		out.ClusterID = &id
	}
	out.Annotation = c.Annotation.Clone()
	return out
}

// CellTable is the value handed from one pipeline step to the next. Steps
// never modify a table they receive; they return a new one.
type CellTable struct {
	Tissue string       `json:"tissue"`
	Pass   string       `json:"pass"`
	Cells  []CellRecord `json:"cells"`
}

// Len returns the number of cells.
func (t *CellTable) Len() int {
	return len(t.Cells)
}

// Clone returns a deep copy of the table.
func (t *CellTable) Clone() *CellTable {
	out := &CellTable{
		Tissue: t.Tissue,
		Pass:   t.Pass,
		Cells:  make([]CellRecord, len(t.Cells)),
	}
	for i, c := range t.Cells {
		out.Cells[i] = c.Clone()
	}
	return out
}

// CellIDs returns the cell ids in table order.
func (t *CellTable) CellIDs() []string {
	ids := make([]string, len(t.Cells))
	for i, c := range t.Cells {
		ids[i] = c.CellID
	}
	return ids
}

// Index maps each cell id to its row position.
func (t *CellTable) Index() map[string]int {
	idx := make(map[string]int, len(t.Cells))
	for i, c := range t.Cells {
		idx[c.CellID] = i
	}
	return idx
}

// ClusterIDs returns the distinct cluster ids present, ascending.
// Cells without a cluster are ignored.
func (t *CellTable) ClusterIDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, c := range t.Cells {
		if c.ClusterID == nil || seen[*c.ClusterID] {
			continue
		}
		seen[*c.ClusterID] = true
		ids = append(ids, *c.ClusterID)
	}
	sort.Ints(ids)
	return ids
}

// SortByCellID orders cells by ascending cell id. The sort is stable so
// equal ids (which a valid table never has) keep their relative order.
func (t *CellTable) SortByCellID() {
	slices.SortStableFunc(t.Cells, func(a, b CellRecord) int {
		switch {
		case a.CellID < b.CellID:
			return -1
		case a.CellID > b.CellID:
			return 1
		}
		return 0
	})
}

// StringPtr returns a pointer to s. Handy for building annotations.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// Deref returns *s or the empty string when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package sqlite

// JSON record structures that mirror the JSONL file format. The JSONL files
// are the source of truth; SQLite is rebuilt from them on every Attach.

// JSONL file names.
const (
	cellsJSONL       = "cells.jsonl"
	passesJSONL      = "passes.jsonl"
	annotationsJSONL = "annotations.jsonl"
)

// cellJSON represents an ingested cell in cells.jsonl.
type cellJSON struct {
	Tissue       string            `json:"tissue"`
	CellID       string            `json:"cell_id"`
	PlateBarcode string            `json:"plate_barcode"`
	PlateFields  map[string]string `json:"plate_fields"`
	PercentERCC  float64           `json:"percent_ercc"`
	PercentRibo  float64           `json:"percent_ribo"`
	NReads       int64             `json:"n_reads"`
	NGenes       int               `json:"n_genes"`
}

// passJSON represents a clustering pass in passes.jsonl.
type passJSON struct {
	PassID    string  `json:"pass_id"`
	Tissue    string  `json:"tissue"`
	Name      string  `json:"name"`
	ParentID  *string `json:"parent_id"`
	CreatedAt string  `json:"created_at"`
}

// annotationJSON represents one cell of one pass in annotations.jsonl.
type annotationJSON struct {
	PassID            string  `json:"pass_id"`
	CellID            string  `json:"cell_id"`
	ClusterID         *int    `json:"cluster_id"`
	FreeAnnotation    *string `json:"free_annotation"`
	CellOntologyClass *string `json:"cell_ontology_class"`
	CellOntologyID    *string `json:"cell_ontology_id"`
}

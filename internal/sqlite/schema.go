// Package sqlite implements the SQLite storage backend for tabula.
package sqlite

// Schema DDL for all tables.
const (
	createCells = `CREATE TABLE cells (
    tissue TEXT NOT NULL,
    cell_id TEXT NOT NULL,
    plate_barcode TEXT NOT NULL,
    plate_fields TEXT NOT NULL,
    percent_ercc REAL NOT NULL,
    percent_ribo REAL NOT NULL,
    n_reads INTEGER NOT NULL,
    n_genes INTEGER NOT NULL,
    PRIMARY KEY (tissue, cell_id)
);`

	createPasses = `CREATE TABLE passes (
    pass_id TEXT PRIMARY KEY,
    tissue TEXT NOT NULL,
    name TEXT NOT NULL,
    parent_id TEXT,
    created_at TEXT NOT NULL,
    UNIQUE (tissue, name),
    FOREIGN KEY (parent_id) REFERENCES passes(pass_id) ON DELETE CASCADE
);`

	createAnnotations = `CREATE TABLE annotations (
    pass_id TEXT NOT NULL,
    cell_id TEXT NOT NULL,
    cluster_id INTEGER,
    free_annotation TEXT,
    cell_ontology_class TEXT,
    cell_ontology_id TEXT,
    PRIMARY KEY (pass_id, cell_id),
    FOREIGN KEY (pass_id) REFERENCES passes(pass_id) ON DELETE CASCADE
);`
)

// Index DDL for common queries.
const (
	idxCellsPlate        = `CREATE INDEX idx_cells_plate ON cells(tissue, plate_barcode);`
	idxPassesParent      = `CREATE INDEX idx_passes_parent ON passes(parent_id);`
	idxAnnotationsClass  = `CREATE INDEX idx_annotations_class ON annotations(cell_ontology_class);`
	idxAnnotationsClustr = `CREATE INDEX idx_annotations_cluster ON annotations(pass_id, cluster_id);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createCells,
	createPasses,
	createAnnotations,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxCellsPlate,
	idxPassesParent,
	idxAnnotationsClass,
	idxAnnotationsClustr,
}

package types

// Atlas is the backend-agnostic store for annotated cell tables. Callers
// attach to a backend, save and load tables, and detach when done.
type Atlas interface {
	// Attach connects the Atlas to the backend described by config.
	// Creates the DataDir if it does not exist. Returns ErrAlreadyAttached
	// if called while attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent. After Detach every
	// other method returns ErrAtlasDetached.
	Detach() error

	// SaveCells replaces the ingested cells of table.Tissue. Annotations and
	// cluster ids on the records are ignored; passes of the tissue are
	// dropped because their cell population no longer exists.
	SaveCells(table *CellTable) error

	// LoadCells returns the ingested cells of a tissue ordered by cell id,
	// without cluster ids or annotations.
	// Returns ErrTissueNotFound if nothing was ingested for the tissue.
	LoadCells(tissue string) (*CellTable, error)

	// Tissues lists ingested tissues, ascending.
	Tissues() ([]string, error)

	// SavePass stores the cluster ids and annotations of table as the named
	// pass, replacing a previous pass with the same tissue and name. The
	// saved pass (with its id) is returned.
	SavePass(pass Pass, table *CellTable) (Pass, error)

	// SavePasses stores several passes in one transaction, in order. Used
	// when a subcluster pass and its merged parent must land together.
	SavePasses(passes []Pass, tables []*CellTable) ([]Pass, error)

	// LoadPass returns a pass and its table: the ingested cells of the pass
	// population carrying the pass's cluster ids and annotations.
	// Returns ErrPassNotFound if the pass does not exist.
	LoadPass(tissue, name string) (Pass, *CellTable, error)

	// ListPasses returns the passes of a tissue ordered by creation.
	ListPasses(tissue string) ([]Pass, error)
}

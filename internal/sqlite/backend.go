// Package sqlite implements the SQLite storage backend for tabula.
// JSONL files in the data directory are the source of truth; SQLite is a
// query engine rebuilt from them on every Attach.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// dbFile is the SQLite file created inside the data directory.
const dbFile = "tabula.db"

// timeLayout is a fixed-width RFC 3339 layout so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Backend implements the Atlas interface using SQLite as the query engine
// and JSONL files as the source of truth.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, builds the SQLite schema and loads
// the JSONL files into it.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// The database is always rebuilt from JSONL.
	dbPath := filepath.Join(dataDir, dbFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps the foreign_keys pragma in effect for every
	// statement.
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	config.DataDir = dataDir
	b.db = db
	b.config = config
	b.attached = true
	return nil
}

// Detach releases all resources held by the backend.
// After Detach, all operations return ErrAtlasDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// SaveCells replaces the ingested cells of table.Tissue and drops the
// tissue's passes.
func (b *Backend) SaveCells(table *types.CellTable) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrAtlasDetached
	}
	if table == nil {
		return fmt.Errorf("save cells: %w", types.ErrInvalidData)
	}
	if strings.TrimSpace(table.Tissue) == "" {
		return fmt.Errorf("save cells: tissue: %w", types.ErrInvalidName)
	}
	seen := make(map[string]struct{}, table.Len())
	for _, c := range table.Cells {
		if _, dup := seen[c.CellID]; dup {
			return fmt.Errorf("save cells: %s: %w", c.CellID, types.ErrDuplicateCell)
		}
		seen[c.CellID] = struct{}{}
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM passes WHERE tissue = ?`, table.Tissue); err != nil {
		return fmt.Errorf("deleting passes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM cells WHERE tissue = ?`, table.Tissue); err != nil {
		return fmt.Errorf("deleting cells: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO cells
		(tissue, cell_id, plate_barcode, plate_fields, percent_ercc, percent_ribo, n_reads, n_genes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range table.Cells {
		fields, err := marshalFields(c.PlateFields)
		if err != nil {
			return fmt.Errorf("encoding plate fields of %s: %w", c.CellID, err)
		}
		if _, err := stmt.Exec(table.Tissue, c.CellID, c.PlateBarcode, fields,
			c.Metrics.PercentERCC, c.Metrics.PercentRibo, c.Metrics.NReads, c.Metrics.NGenes); err != nil {
			return fmt.Errorf("inserting cell %s: %w", c.CellID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cells: %w", err)
	}
	return b.persistAll()
}

// LoadCells returns the ingested cells of a tissue ordered by cell id.
func (b *Backend) LoadCells(tissue string) (*types.CellTable, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrAtlasDetached
	}

	rows, err := b.db.Query(`SELECT cell_id, plate_barcode, plate_fields, percent_ercc, percent_ribo, n_reads, n_genes
		FROM cells WHERE tissue = ? ORDER BY cell_id`, tissue)
	if err != nil {
		return nil, fmt.Errorf("querying cells: %w", err)
	}
	defer rows.Close()

	table := &types.CellTable{Tissue: tissue}
	for rows.Next() {
		var (
			c      types.CellRecord
			fields string
		)
		if err := rows.Scan(&c.CellID, &c.PlateBarcode, &fields,
			&c.Metrics.PercentERCC, &c.Metrics.PercentRibo, &c.Metrics.NReads, &c.Metrics.NGenes); err != nil {
			return nil, fmt.Errorf("scanning cell: %w", err)
		}
		if c.PlateFields, err = unmarshalFields(fields); err != nil {
			return nil, fmt.Errorf("decoding plate fields of %s: %w", c.CellID, err)
		}
		table.Cells = append(table.Cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(table.Cells) == 0 {
		return nil, fmt.Errorf("%s: %w", tissue, types.ErrTissueNotFound)
	}
	return table, nil
}

// Tissues lists ingested tissues in ascending order.
func (b *Backend) Tissues() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrAtlasDetached
	}

	rows, err := b.db.Query(`SELECT DISTINCT tissue FROM cells ORDER BY tissue`)
	if err != nil {
		return nil, fmt.Errorf("querying tissues: %w", err)
	}
	defer rows.Close()

	var tissues []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tissues = append(tissues, t)
	}
	return tissues, rows.Err()
}

// SavePass stores table's cluster ids and annotations as the named pass.
func (b *Backend) SavePass(pass types.Pass, table *types.CellTable) (types.Pass, error) {
	saved, err := b.SavePasses([]types.Pass{pass}, []*types.CellTable{table})
	if err != nil {
		return types.Pass{}, err
	}
	return saved[0], nil
}

// SavePasses stores several passes in one transaction. A pass with the same
// tissue and name as a stored one keeps its id and creation time; its
// annotations are replaced.
func (b *Backend) SavePasses(passes []types.Pass, tables []*types.CellTable) ([]types.Pass, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil, types.ErrAtlasDetached
	}
	if len(passes) != len(tables) {
		return nil, fmt.Errorf("save passes: %d passes for %d tables: %w", len(passes), len(tables), types.ErrInvalidData)
	}

	tx, err := b.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	saved := make([]types.Pass, len(passes))
	for i := range passes {
		p, err := savePassTx(tx, passes[i], tables[i])
		if err != nil {
			return nil, err
		}
		saved[i] = p
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing passes: %w", err)
	}
	if err := b.persistPasses(); err != nil {
		return nil, err
	}
	if err := b.persistAnnotations(); err != nil {
		return nil, err
	}
	return saved, nil
}

// savePassTx writes one pass and its annotations inside tx.
func savePassTx(tx *sql.Tx, pass types.Pass, table *types.CellTable) (types.Pass, error) {
	if table == nil {
		return types.Pass{}, fmt.Errorf("save pass %q: %w", pass.Name, types.ErrInvalidData)
	}
	if pass.Tissue == "" {
		pass.Tissue = table.Tissue
	}
	if strings.TrimSpace(pass.Name) == "" {
		return types.Pass{}, fmt.Errorf("save pass: name: %w", types.ErrInvalidName)
	}
	if pass.Tissue != table.Tissue {
		return types.Pass{}, fmt.Errorf("save pass %q: tissue %q does not match table tissue %q: %w",
			pass.Name, pass.Tissue, table.Tissue, types.ErrInvalidData)
	}

	known, err := cellIDSet(tx, pass.Tissue)
	if err != nil {
		return types.Pass{}, err
	}
	if len(known) == 0 {
		return types.Pass{}, fmt.Errorf("save pass %q: %s: %w", pass.Name, pass.Tissue, types.ErrTissueNotFound)
	}
	var foreign []string
	for _, c := range table.Cells {
		if _, ok := known[c.CellID]; !ok {
			foreign = append(foreign, c.CellID)
		}
	}
	if len(foreign) > 0 {
		return types.Pass{}, fmt.Errorf("save pass %q: %w", pass.Name, &types.ForeignCellError{CellIDs: foreign})
	}

	var (
		existingID string
		createdAt  string
	)
	err = tx.QueryRow(`SELECT pass_id, created_at FROM passes WHERE tissue = ? AND name = ?`,
		pass.Tissue, pass.Name).Scan(&existingID, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		pass.PassID = generateUUID()
		pass.CreatedAt = time.Now().UTC().Round(0)
	case err != nil:
		return types.Pass{}, fmt.Errorf("querying pass: %w", err)
	default:
		pass.PassID = existingID
		if pass.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return types.Pass{}, fmt.Errorf("parsing created_at of %s: %w", existingID, err)
		}
	}

	if pass.ParentID != nil {
		if *pass.ParentID == pass.PassID {
			return types.Pass{}, fmt.Errorf("save pass %q: pass cannot be its own parent: %w", pass.Name, types.ErrInvalidData)
		}
		var parentTissue string
		err := tx.QueryRow(`SELECT tissue FROM passes WHERE pass_id = ?`, *pass.ParentID).Scan(&parentTissue)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parentTissue != pass.Tissue) {
			return types.Pass{}, fmt.Errorf("save pass %q: parent %s: %w", pass.Name, *pass.ParentID, types.ErrPassNotFound)
		}
		if err != nil {
			return types.Pass{}, fmt.Errorf("querying parent pass: %w", err)
		}
	}

	if existingID == "" {
		_, err = tx.Exec(`INSERT INTO passes (pass_id, tissue, name, parent_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			pass.PassID, pass.Tissue, pass.Name, nullString(pass.ParentID), pass.CreatedAt.Format(timeLayout))
	} else {
		_, err = tx.Exec(`UPDATE passes SET parent_id = ? WHERE pass_id = ?`, nullString(pass.ParentID), pass.PassID)
	}
	if err != nil {
		return types.Pass{}, fmt.Errorf("writing pass %q: %w", pass.Name, err)
	}

	if _, err := tx.Exec(`DELETE FROM annotations WHERE pass_id = ?`, pass.PassID); err != nil {
		return types.Pass{}, fmt.Errorf("clearing annotations: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO annotations
		(pass_id, cell_id, cluster_id, free_annotation, cell_ontology_class, cell_ontology_id)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return types.Pass{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range table.Cells {
		var cluster any
		if c.ClusterID != nil {
			cluster = *c.ClusterID
		}
		if _, err := stmt.Exec(pass.PassID, c.CellID, cluster,
			nullString(c.FreeAnnotation), nullString(c.CellOntologyClass), nullString(c.CellOntologyID)); err != nil {
			return types.Pass{}, fmt.Errorf("inserting annotation %s: %w", c.CellID, err)
		}
	}
	return pass, nil
}

// LoadPass returns a pass and its cells carrying the pass's cluster ids and
// annotations, ordered by cell id.
func (b *Backend) LoadPass(tissue, name string) (types.Pass, *types.CellTable, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.Pass{}, nil, types.ErrAtlasDetached
	}

	pass, err := scanPass(b.db.QueryRow(`SELECT pass_id, tissue, name, parent_id, created_at
		FROM passes WHERE tissue = ? AND name = ?`, tissue, name))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Pass{}, nil, fmt.Errorf("%s/%s: %w", tissue, name, types.ErrPassNotFound)
	}
	if err != nil {
		return types.Pass{}, nil, fmt.Errorf("querying pass: %w", err)
	}

	rows, err := b.db.Query(`SELECT c.cell_id, c.plate_barcode, c.plate_fields, c.percent_ercc, c.percent_ribo,
			c.n_reads, c.n_genes, a.cluster_id, a.free_annotation, a.cell_ontology_class, a.cell_ontology_id
		FROM annotations a JOIN cells c ON c.tissue = ? AND c.cell_id = a.cell_id
		WHERE a.pass_id = ? ORDER BY c.cell_id`, tissue, pass.PassID)
	if err != nil {
		return types.Pass{}, nil, fmt.Errorf("querying annotations: %w", err)
	}
	defer rows.Close()

	table := &types.CellTable{Tissue: tissue, Pass: name}
	for rows.Next() {
		var (
			c                    types.CellRecord
			fields               string
			cluster              sql.NullInt64
			free, class, classID sql.NullString
		)
		if err := rows.Scan(&c.CellID, &c.PlateBarcode, &fields, &c.Metrics.PercentERCC, &c.Metrics.PercentRibo,
			&c.Metrics.NReads, &c.Metrics.NGenes, &cluster, &free, &class, &classID); err != nil {
			return types.Pass{}, nil, fmt.Errorf("scanning annotation: %w", err)
		}
		if c.PlateFields, err = unmarshalFields(fields); err != nil {
			return types.Pass{}, nil, fmt.Errorf("decoding plate fields of %s: %w", c.CellID, err)
		}
		if cluster.Valid {
			c.ClusterID = types.IntPtr(int(cluster.Int64))
		}
		c.FreeAnnotation = stringPtr(free)
		c.CellOntologyClass = stringPtr(class)
		c.CellOntologyID = stringPtr(classID)
		table.Cells = append(table.Cells, c)
	}
	if err := rows.Err(); err != nil {
		return types.Pass{}, nil, err
	}
	return pass, table, nil
}

// ListPasses returns the passes of a tissue ordered by creation time.
func (b *Backend) ListPasses(tissue string) ([]types.Pass, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrAtlasDetached
	}

	rows, err := b.db.Query(`SELECT pass_id, tissue, name, parent_id, created_at
		FROM passes WHERE tissue = ? ORDER BY created_at, name`, tissue)
	if err != nil {
		return nil, fmt.Errorf("querying passes: %w", err)
	}
	defer rows.Close()

	var passes []types.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pass: %w", err)
		}
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (types.Pass, error) {
	var (
		p         types.Pass
		parent    sql.NullString
		createdAt string
	)
	if err := row.Scan(&p.PassID, &p.Tissue, &p.Name, &parent, &createdAt); err != nil {
		return types.Pass{}, err
	}
	p.ParentID = stringPtr(parent)
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return types.Pass{}, fmt.Errorf("parsing created_at of %s: %w", p.PassID, err)
	}
	p.CreatedAt = t
	return p, nil
}

func cellIDSet(tx *sql.Tx, tissue string) (map[string]struct{}, error) {
	rows, err := tx.Query(`SELECT cell_id FROM cells WHERE tissue = ?`, tissue)
	if err != nil {
		return nil, fmt.Errorf("querying cells: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// persistAll rewrites every JSONL file from SQLite.
func (b *Backend) persistAll() error {
	if err := b.persistCells(); err != nil {
		return err
	}
	if err := b.persistPasses(); err != nil {
		return err
	}
	return b.persistAnnotations()
}

func (b *Backend) persistCells() error {
	rows, err := b.db.Query(`SELECT tissue, cell_id, plate_barcode, plate_fields, percent_ercc, percent_ribo, n_reads, n_genes
		FROM cells ORDER BY tissue, cell_id`)
	if err != nil {
		return fmt.Errorf("querying cells for persist: %w", err)
	}
	defer rows.Close()

	var recs []cellJSON
	for rows.Next() {
		var (
			r      cellJSON
			fields string
		)
		if err := rows.Scan(&r.Tissue, &r.CellID, &r.PlateBarcode, &fields,
			&r.PercentERCC, &r.PercentRibo, &r.NReads, &r.NGenes); err != nil {
			return err
		}
		if r.PlateFields, err = unmarshalFields(fields); err != nil {
			return err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeRecords(b.config.DataDir, cellsJSONL, recs)
}

func (b *Backend) persistPasses() error {
	rows, err := b.db.Query(`SELECT pass_id, tissue, name, parent_id, created_at
		FROM passes ORDER BY created_at, pass_id`)
	if err != nil {
		return fmt.Errorf("querying passes for persist: %w", err)
	}
	defer rows.Close()

	var recs []passJSON
	for rows.Next() {
		var (
			r      passJSON
			parent sql.NullString
		)
		if err := rows.Scan(&r.PassID, &r.Tissue, &r.Name, &parent, &r.CreatedAt); err != nil {
			return err
		}
		r.ParentID = stringPtr(parent)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeRecords(b.config.DataDir, passesJSONL, recs)
}

func (b *Backend) persistAnnotations() error {
	rows, err := b.db.Query(`SELECT pass_id, cell_id, cluster_id, free_annotation, cell_ontology_class, cell_ontology_id
		FROM annotations ORDER BY pass_id, cell_id`)
	if err != nil {
		return fmt.Errorf("querying annotations for persist: %w", err)
	}
	defer rows.Close()

	var recs []annotationJSON
	for rows.Next() {
		var (
			r                    annotationJSON
			cluster              sql.NullInt64
			free, class, classID sql.NullString
		)
		if err := rows.Scan(&r.PassID, &r.CellID, &cluster, &free, &class, &classID); err != nil {
			return err
		}
		if cluster.Valid {
			r.ClusterID = types.IntPtr(int(cluster.Int64))
		}
		r.FreeAnnotation = stringPtr(free)
		r.CellOntologyClass = stringPtr(class)
		r.CellOntologyID = stringPtr(classID)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeRecords(b.config.DataDir, annotationsJSONL, recs)
}

// writeRecords atomically replaces a JSONL file with recs.
func writeRecords[T any](dataDir, file string, recs []T) error {
	raw, err := marshalRecords(recs)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", file, err)
	}
	if err := writeJSONL(filepath.Join(dataDir, file), raw); err != nil {
		return fmt.Errorf("persisting %s: %w", file, err)
	}
	return nil
}

// marshalFields encodes plate fields as JSON text with sorted keys.
func marshalFields(fields map[string]string) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalFields(text string) (map[string]string, error) {
	fields := make(map[string]string)
	if text == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return types.StringPtr(ns.String)
}

// generateUUID generates a new UUID v7 for pass ids.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}

// Package workflow runs the analysis steps of the tabula CLI against an
// Atlas: ingest, subset selection, label validation, annotation and export.
// Each step is a pure table transform from internal/pipeline followed by a
// single store write, so a failed step persists nothing.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/tabula/internal/artifact"
	"github.com/mesh-intelligence/tabula/internal/export"
	"github.com/mesh-intelligence/tabula/internal/labels"
	"github.com/mesh-intelligence/tabula/internal/matrix"
	"github.com/mesh-intelligence/tabula/internal/metrics"
	"github.com/mesh-intelligence/tabula/internal/pipeline"
	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Step names used in logs and metrics.
const (
	StepIngest   = "ingest"
	StepSelect   = "select"
	StepValidate = "validate"
	StepAnnotate = "annotate"
	StepExport   = "export"
)

// QC drop reasons.
const (
	reasonCells = "cells"
	reasonGenes = "genes"
)

// ErrStore marks an atlas write that failed for reasons other than the
// data written: I/O, locking, a corrupt database.
var ErrStore = errors.New("atlas write failed")

// Atlas errors caused by the written data rather than by the store.
var dataErrors = []error{
	types.ErrInvalidData,
	types.ErrInvalidName,
	types.ErrTissueNotFound,
	types.ErrPassNotFound,
	types.ErrForeignCell,
	types.ErrDuplicateCell,
}

func storeErr(op string, err error) error {
	for _, target := range dataErrors {
		if errors.Is(err, target) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// Workflow binds the pipeline to an attached Atlas.
type Workflow struct {
	atlas   types.Atlas
	cfg     types.Config
	store   artifact.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option customizes a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workflow) { w.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithArtifactStore sets the store that Export publishes to.
func WithArtifactStore(s artifact.Store) Option {
	return func(w *Workflow) { w.store = s }
}

// New returns a Workflow over an attached atlas.
func New(atlas types.Atlas, cfg types.Config, opts ...Option) *Workflow {
	w := &Workflow{atlas: atlas, cfg: cfg, log: zap.NewNop(), metrics: metrics.New()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Metrics returns the metrics sink of the workflow.
func (w *Workflow) Metrics() *metrics.Metrics { return w.metrics }

// IngestInput names the raw inputs of one tissue.
type IngestInput struct {
	Tissue     string
	MatrixPath string
	PlatesPath string
	MatrixOut  string // optional; receives the reordered, filtered matrix
}

// IngestResult summarizes an ingest.
type IngestResult struct {
	Table        *types.CellTable
	Matrix       *matrix.Matrix
	DroppedCells []string
	DroppedGenes int
}

// Ingest reads the count matrix and plate metadata, joins them, applies
// quality control and replaces the tissue's cells in the atlas.
func (w *Workflow) Ingest(in IngestInput) (res *IngestResult, err error) {
	start := time.Now()
	defer func() { w.finish(StepIngest, start, err) }()

	m, err := matrix.ReadFile(in.MatrixPath, w.cfg.Matrix.GetSpikeInPrefix())
	if err != nil {
		return nil, err
	}
	plates, err := tabular.ReadPlatesFile(in.PlatesPath)
	if err != nil {
		return nil, err
	}
	w.log.Debug("inputs read",
		zap.String("tissue", in.Tissue),
		zap.Int("genes", m.NumGenes()),
		zap.Int("cells", m.NumCells()),
		zap.Int("plates", plates.Len()))

	merged, table, err := pipeline.Merge(in.Tissue, m, plates, pipeline.MergeOptions{
		RiboPrefixes: w.cfg.Matrix.GetRiboPrefixes(),
	})
	if err != nil {
		return nil, err
	}
	filtered, fm, dropped, err := pipeline.FilterCells(table, merged, w.cfg.QC)
	if err != nil {
		return nil, err
	}
	droppedGenes := merged.NumGenes() - fm.NumGenes()

	if err := w.atlas.SaveCells(filtered); err != nil {
		return nil, storeErr("saving cells", err)
	}
	if in.MatrixOut != "" {
		if err := matrix.WriteFile(in.MatrixOut, fm); err != nil {
			return nil, err
		}
	}

	w.metrics.SetCells(in.Tissue, "", filtered.Len())
	w.metrics.AddDropped(reasonCells, len(dropped))
	w.metrics.AddDropped(reasonGenes, droppedGenes)
	w.log.Info("tissue ingested",
		zap.String("tissue", in.Tissue),
		zap.Int("cells", filtered.Len()),
		zap.Int("dropped_cells", len(dropped)),
		zap.Int("dropped_genes", droppedGenes))
	return &IngestResult{Table: filtered, Matrix: fm, DroppedCells: dropped, DroppedGenes: droppedGenes}, nil
}

// Select returns the ids of the cells in the given clusters of a stored
// pass, ascending. They seed a subcluster pass.
func (w *Workflow) Select(tissue, pass string, clusterIDs []int) (ids []string, err error) {
	start := time.Now()
	defer func() { w.finish(StepSelect, start, err) }()

	_, table, err := w.atlas.LoadPass(tissue, pass)
	if err != nil {
		return nil, err
	}
	sub := pipeline.SelectClusters(table, clusterIDs...)
	w.log.Info("clusters selected",
		zap.String("tissue", tissue),
		zap.String("pass", pass),
		zap.Ints("clusters", clusterIDs),
		zap.Int("cells", sub.Len()))
	return sub.CellIDs(), nil
}

// Validate checks every ontology class of a label file against vocab.
func (w *Workflow) Validate(f *labels.File, vocab *types.Vocabulary) (err error) {
	start := time.Now()
	defer func() { w.finish(StepValidate, start, err) }()

	if err := pipeline.Validate(f.Clusters.OntologyClasses(), vocab); err != nil {
		return err
	}
	w.log.Info("labels valid",
		zap.String("tissue", f.Tissue),
		zap.String("pass", f.Pass),
		zap.Int("clusters", len(f.Clusters)))
	return nil
}

// AnnotateInput is one labeled clustering pass.
type AnnotateInput struct {
	Labels      *labels.File
	Assignments map[string]int // cell id -> cluster id from the external toolkit
	Vocabulary  *types.Vocabulary
}

// AnnotateResult reports the passes written by Annotate. Merged holds the
// ancestors that received the subcluster labels, nearest first.
type AnnotateResult struct {
	Pass   types.Pass
	Table  *types.CellTable
	Merged []types.Pass
}

// Annotate labels one clustering pass. A top-level pass covers every
// ingested cell of the tissue. A pass with a parent covers the assigned
// cells of the parent pass; its labels are merged into the parent and on up
// through every ancestor, and all touched passes are saved together.
func (w *Workflow) Annotate(in AnnotateInput) (res *AnnotateResult, err error) {
	start := time.Now()
	defer func() { w.finish(StepAnnotate, start, err) }()

	f := in.Labels
	if err := pipeline.Validate(f.Clusters.OntologyClasses(), in.Vocabulary); err != nil {
		return nil, err
	}

	if f.Parent == "" {
		base, err := w.atlas.LoadCells(f.Tissue)
		if err != nil {
			return nil, err
		}
		table, err := label(base, f, in)
		if err != nil {
			return nil, err
		}
		saved, err := w.atlas.SavePass(types.Pass{Tissue: f.Tissue, Name: f.Pass}, table)
		if err != nil {
			return nil, storeErr("saving pass", err)
		}
		w.annotated(saved, table)
		return &AnnotateResult{Pass: saved, Table: table}, nil
	}

	parentPass, parentTable, err := w.atlas.LoadPass(f.Tissue, f.Parent)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(in.Assignments))
	for id := range in.Assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	population, err := pipeline.Subset(parentTable, ids)
	if err != nil {
		return nil, err
	}
	sub, err := label(population, f, in)
	if err != nil {
		return nil, err
	}

	passes := []types.Pass{{Tissue: f.Tissue, Name: f.Pass, ParentID: &parentPass.PassID}}
	tables := []*types.CellTable{sub}
	child := sub
	ancestor, ancestorTable := parentPass, parentTable
	seen := map[string]bool{}
	for {
		if ancestor.Name == f.Pass || seen[ancestor.PassID] {
			return nil, fmt.Errorf("%w: pass %q cannot descend from itself through %q",
				types.ErrInvalidData, f.Pass, f.Parent)
		}
		seen[ancestor.PassID] = true
		merged, err := pipeline.MergeSubcluster(ancestorTable, child)
		if err != nil {
			return nil, err
		}
		w.log.Debug("labels merged",
			zap.String("tissue", f.Tissue),
			zap.String("into", ancestor.Name),
			zap.Int("relabeled", relabeled(ancestorTable, merged)))
		passes = append(passes, ancestor)
		tables = append(tables, merged)
		if ancestor.ParentID == nil {
			break
		}
		ancestor, ancestorTable, err = w.loadPassByID(f.Tissue, *ancestor.ParentID)
		if err != nil {
			return nil, err
		}
		child = merged
	}

	saved, err := w.atlas.SavePasses(passes, tables)
	if err != nil {
		return nil, storeErr("saving passes", err)
	}
	for i := range saved {
		w.annotated(saved[i], tables[i])
	}
	w.log.Info("subcluster merged",
		zap.String("tissue", f.Tissue),
		zap.String("pass", f.Pass),
		zap.String("parent", f.Parent),
		zap.Int("ancestors", len(saved)-1))
	return &AnnotateResult{Pass: saved[0], Table: sub, Merged: saved[1:]}, nil
}

// label assigns clusters to a population and propagates the label map.
func label(population *types.CellTable, f *labels.File, in AnnotateInput) (*types.CellTable, error) {
	clustered, err := pipeline.AssignClusters(population, f.Pass, in.Assignments)
	if err != nil {
		return nil, err
	}
	return pipeline.Apply(clustered, f.Clusters, in.Vocabulary)
}

// relabeled counts the cells whose annotation differs between two versions
// of the same table.
func relabeled(before, after *types.CellTable) int {
	n := 0
	for i := range after.Cells {
		if !after.Cells[i].Annotation.Equal(before.Cells[i].Annotation) {
			n++
		}
	}
	return n
}

func (w *Workflow) loadPassByID(tissue, passID string) (types.Pass, *types.CellTable, error) {
	passes, err := w.atlas.ListPasses(tissue)
	if err != nil {
		return types.Pass{}, nil, err
	}
	for _, p := range passes {
		if p.PassID == passID {
			return w.atlas.LoadPass(tissue, p.Name)
		}
	}
	return types.Pass{}, nil, fmt.Errorf("pass id %s: %w", passID, types.ErrPassNotFound)
}

func (w *Workflow) annotated(p types.Pass, table *types.CellTable) {
	n := 0
	for _, c := range table.Cells {
		if c.CellOntologyClass != nil {
			n++
		}
	}
	w.metrics.SetCells(p.Tissue, p.Name, table.Len())
	w.metrics.SetAnnotated(p.Tissue, p.Name, n)
	w.log.Info("pass saved",
		zap.String("tissue", p.Tissue),
		zap.String("pass", p.Name),
		zap.String("pass_id", p.PassID),
		zap.Int("cells", table.Len()),
		zap.Int("annotated", n))
}

// ExportInput selects the pass to export and where it goes.
type ExportInput struct {
	Tissue    string
	Pass      string
	Embedding map[string]tabular.Point // nil leaves tSNE columns empty
	Out       io.Writer                // optional local copy
	Publish   bool                     // upload to the artifact store
	Key       string                   // artifact key; defaults to <tissue>/<pass>.csv
}

// Export writes the CSV of a stored pass and optionally publishes it. The
// artifact info is nil when nothing was published.
func (w *Workflow) Export(ctx context.Context, in ExportInput) (info *artifact.Info, err error) {
	start := time.Now()
	defer func() { w.finish(StepExport, start, err) }()

	_, table, err := w.atlas.LoadPass(in.Tissue, in.Pass)
	if err != nil {
		return nil, err
	}
	if in.Out != nil {
		if err := export.WriteCSV(in.Out, table, in.Embedding); err != nil {
			return nil, err
		}
	}
	if !in.Publish {
		return nil, nil
	}
	if w.store == nil {
		return nil, fmt.Errorf("publish %s/%s: no artifact store configured", in.Tissue, in.Pass)
	}
	key := in.Key
	if key == "" {
		key = export.Key(table)
	}
	published, err := export.Publish(ctx, w.store, key, table, in.Embedding)
	if err != nil {
		return nil, err
	}
	w.log.Info("export published",
		zap.String("driver", w.store.Driver()),
		zap.String("location", published.Location),
		zap.Int64("bytes", published.Size))
	return &published, nil
}

// Passes lists the stored passes of a tissue. An empty tissue lists the
// passes of every ingested tissue, tissue by tissue.
func (w *Workflow) Passes(tissue string) ([]types.Pass, error) {
	if tissue != "" {
		return w.atlas.ListPasses(tissue)
	}
	tissues, err := w.atlas.Tissues()
	if err != nil {
		return nil, err
	}
	var all []types.Pass
	for _, t := range tissues {
		passes, err := w.atlas.ListPasses(t)
		if err != nil {
			return nil, err
		}
		all = append(all, passes...)
	}
	return all, nil
}

func (w *Workflow) finish(step string, start time.Time, err error) {
	w.metrics.ObserveStep(step, start, err)
	if err != nil {
		w.log.Error("step failed", zap.String("step", step), zap.Error(err))
		return
	}
	w.log.Debug("step done", zap.String("step", step), zap.Duration("elapsed", time.Since(start)))
}

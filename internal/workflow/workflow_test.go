package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tabula/internal/artifact"
	"github.com/mesh-intelligence/tabula/internal/labels"
	"github.com/mesh-intelligence/tabula/internal/matrix"
	"github.com/mesh-intelligence/tabula/internal/sqlite"
	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Cells are listed out of order; B2 has no detected genes and fails QC.
const countsCSV = `"",B1.B000002.3_39_M.1.1,A2.B000001.3_38_F.1.1,A1.B000001.3_38_F.1.1,A3.B000001.3_38_F.1.1,B2.B000002.3_39_M.1.1
Gcg,0,12,30,0,0
Ins2,40,0,0,0,0
Sst,0,0,0,25,0
Rpl13,5,3,2,1,0
ERCC-00002,5,0,8,0,3
`

const platesCSV = `plate_barcode,mouse.id,mouse.sex
B000001,3_38_F,F
B000002,3_39_M,M
`

func vocabulary() *types.Vocabulary {
	return types.NewVocabulary([]types.Term{
		{ID: "CL:0000171", Name: "pancreatic A cell"},
		{ID: "CL:0000169", Name: "type B pancreatic cell"},
		{ID: "CL:0000173", Name: "pancreatic D cell"},
		{ID: "CL:0000000", Name: "endocrine cell"},
	})
}

type fixture struct {
	wf    *Workflow
	atlas types.Atlas
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counts.csv"), []byte(countsCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plates.csv"), []byte(platesCSV), 0o644))

	cfg := types.Config{
		Backend: types.BackendSQLite,
		DataDir: filepath.Join(dir, "db"),
		QC:      types.QCConfig{MinGenes: 1},
	}
	atlas := sqlite.NewBackend()
	require.NoError(t, atlas.Attach(cfg))
	t.Cleanup(func() { atlas.Detach() })

	wf := New(atlas, cfg, WithArtifactStore(artifact.NewMemory()))
	return &fixture{wf: wf, atlas: atlas, dir: dir}
}

func (f *fixture) ingest(t *testing.T) *IngestResult {
	t.Helper()
	res, err := f.wf.Ingest(IngestInput{
		Tissue:     "Pancreas",
		MatrixPath: filepath.Join(f.dir, "counts.csv"),
		PlatesPath: filepath.Join(f.dir, "plates.csv"),
		MatrixOut:  filepath.Join(f.dir, "qc.csv"),
	})
	require.NoError(t, err)
	return res
}

func labelFile(pass, parent string, clusters types.ClusterLabelMap) *labels.File {
	return &labels.File{Tissue: "Pancreas", Pass: pass, Parent: parent, Clusters: clusters}
}

func cl(free, class string) types.ClusterLabel {
	l := types.ClusterLabel{}
	if free != "" {
		l.FreeAnnotation = types.StringPtr(free)
	}
	if class != "" {
		l.CellOntologyClass = types.StringPtr(class)
	}
	return l
}

func (f *fixture) annotateTop(t *testing.T) *AnnotateResult {
	t.Helper()
	res, err := f.wf.Annotate(AnnotateInput{
		Labels: labelFile(types.TopPass, "", types.ClusterLabelMap{
			0: cl("alpha", "pancreatic A cell"),
			1: cl("endocrine", "endocrine cell"),
			2: cl("", ""),
		}),
		Assignments: map[string]int{
			"A1.B000001.3_38_F.1.1": 0,
			"A2.B000001.3_38_F.1.1": 1,
			"A3.B000001.3_38_F.1.1": 1,
			"B1.B000002.3_39_M.1.1": 2,
		},
		Vocabulary: vocabulary(),
	})
	require.NoError(t, err)
	return res
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	res := f.ingest(t)

	assert.Equal(t, []string{
		"A1.B000001.3_38_F.1.1",
		"A2.B000001.3_38_F.1.1",
		"A3.B000001.3_38_F.1.1",
		"B1.B000002.3_39_M.1.1",
	}, res.Table.CellIDs())
	assert.Equal(t, []string{"B2.B000002.3_39_M.1.1"}, res.DroppedCells)
	assert.Equal(t, res.Table.CellIDs(), res.Matrix.CellIDs(), "matrix aligned to table")

	first := res.Table.Cells[0]
	assert.Equal(t, "B000001", first.PlateBarcode)
	assert.Equal(t, "F", first.PlateFields["mouse.sex"])
	assert.Equal(t, int64(32), first.Metrics.NReads)
	assert.InDelta(t, 8.0/40.0, first.Metrics.PercentERCC, 1e-9)

	stored, err := f.atlas.LoadCells("Pancreas")
	require.NoError(t, err)
	assert.Equal(t, res.Table.CellIDs(), stored.CellIDs())

	qc, err := matrix.ReadFile(filepath.Join(f.dir, "qc.csv"), "ERCC-")
	require.NoError(t, err)
	assert.Equal(t, res.Table.CellIDs(), qc.CellIDs())
}

func TestIngestUnmatchedBarcode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "plates.csv"),
		[]byte("plate_barcode,mouse.id\nB000001,3_38_F\n"), 0o644))

	_, err := f.wf.Ingest(IngestInput{
		Tissue:     "Pancreas",
		MatrixPath: filepath.Join(f.dir, "counts.csv"),
		PlatesPath: filepath.Join(f.dir, "plates.csv"),
	})
	var mje *types.MetadataJoinError
	require.ErrorAs(t, err, &mje)
	assert.Equal(t, []string{"B1.B000002.3_39_M.1.1", "B2.B000002.3_39_M.1.1"}, mje.CellIDs)

	_, err = f.atlas.LoadCells("Pancreas")
	assert.ErrorIs(t, err, types.ErrTissueNotFound, "nothing persisted")
}

func TestAnnotateTopPass(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	res := f.annotateTop(t)

	assert.Equal(t, types.TopPass, res.Pass.Name)
	assert.Empty(t, res.Merged)

	_, table, err := f.atlas.LoadPass("Pancreas", types.TopPass)
	require.NoError(t, err)
	require.Len(t, table.Cells, 4)
	assert.Equal(t, "CL:0000171", types.Deref(table.Cells[0].CellOntologyID))
	assert.Equal(t, "endocrine cell", types.Deref(table.Cells[1].CellOntologyClass))
	assert.Nil(t, table.Cells[3].CellOntologyClass, "cluster 2 undetermined")
	assert.Nil(t, table.Cells[3].FreeAnnotation)
}

func TestAnnotateRejectsInvalidLabels(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	_, err := f.wf.Annotate(AnnotateInput{
		Labels: labelFile(types.TopPass, "", types.ClusterLabelMap{
			0: cl("alpha", "pancreatic A cel"),
		}),
		Assignments: map[string]int{"A1.B000001.3_38_F.1.1": 0},
		Vocabulary:  vocabulary(),
	})
	var ove *types.OntologyValidationError
	require.ErrorAs(t, err, &ove)
	assert.Equal(t, []string{"pancreatic A cel"}, ove.Labels)

	passes, err := f.wf.Passes("Pancreas")
	require.NoError(t, err)
	assert.Empty(t, passes)
}

func TestAnnotateUnmappedCluster(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	_, err := f.wf.Annotate(AnnotateInput{
		Labels: labelFile(types.TopPass, "", types.ClusterLabelMap{0: cl("alpha", "")}),
		Assignments: map[string]int{
			"A1.B000001.3_38_F.1.1": 0,
			"A2.B000001.3_38_F.1.1": 3,
			"A3.B000001.3_38_F.1.1": 0,
			"B1.B000002.3_39_M.1.1": 0,
		},
		Vocabulary: vocabulary(),
	})
	var uce *types.UnmappedClusterError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, []int{3}, uce.ClusterIDs)
}

func TestSelectAndSubcluster(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	top := f.annotateTop(t)

	ids, err := f.wf.Select("Pancreas", types.TopPass, []int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"A2.B000001.3_38_F.1.1", "A3.B000001.3_38_F.1.1"}, ids)

	res, err := f.wf.Annotate(AnnotateInput{
		Labels: labelFile("endocrine", types.TopPass, types.ClusterLabelMap{
			0: cl("alpha", "pancreatic A cell"),
			1: cl("delta", "pancreatic D cell"),
		}),
		Assignments: map[string]int{ids[0]: 0, ids[1]: 1},
		Vocabulary:  vocabulary(),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Pass.ParentID)
	assert.Equal(t, top.Pass.PassID, *res.Pass.ParentID)
	require.Len(t, res.Merged, 1)
	assert.Equal(t, top.Pass.PassID, res.Merged[0].PassID)

	_, merged, err := f.atlas.LoadPass("Pancreas", types.TopPass)
	require.NoError(t, err)
	classes := make([]string, len(merged.Cells))
	for i, c := range merged.Cells {
		classes[i] = types.Deref(c.CellOntologyClass)
	}
	assert.Equal(t, []string{"pancreatic A cell", "pancreatic A cell", "pancreatic D cell", ""}, classes)
	assert.Equal(t, 1, *merged.Cells[1].ClusterID, "parent cluster ids kept")

	_, sub, err := f.atlas.LoadPass("Pancreas", "endocrine")
	require.NoError(t, err)
	assert.Equal(t, ids, sub.CellIDs())
}

func TestNestedSubclusterMergesToTop(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	f.annotateTop(t)

	_, err := f.wf.Annotate(AnnotateInput{
		Labels: labelFile("endocrine", types.TopPass, types.ClusterLabelMap{
			0: cl("endocrine", "endocrine cell"),
		}),
		Assignments: map[string]int{"A2.B000001.3_38_F.1.1": 0, "A3.B000001.3_38_F.1.1": 0},
		Vocabulary:  vocabulary(),
	})
	require.NoError(t, err)

	res, err := f.wf.Annotate(AnnotateInput{
		Labels: labelFile("delta", "endocrine", types.ClusterLabelMap{
			0: cl("delta", "pancreatic D cell"),
		}),
		Assignments: map[string]int{"A3.B000001.3_38_F.1.1": 0},
		Vocabulary:  vocabulary(),
	})
	require.NoError(t, err)
	require.Len(t, res.Merged, 2)
	assert.Equal(t, "endocrine", res.Merged[0].Name)
	assert.Equal(t, types.TopPass, res.Merged[1].Name)

	_, top, err := f.atlas.LoadPass("Pancreas", types.TopPass)
	require.NoError(t, err)
	assert.Equal(t, "pancreatic D cell", types.Deref(top.Cells[2].CellOntologyClass))
	assert.Equal(t, "endocrine cell", types.Deref(top.Cells[1].CellOntologyClass))
	assert.Equal(t, "pancreatic A cell", types.Deref(top.Cells[0].CellOntologyClass))
}

func TestSubclusterForeignCell(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	f.annotateTop(t)

	_, err := f.wf.Annotate(AnnotateInput{
		Labels:      labelFile("endocrine", types.TopPass, types.ClusterLabelMap{0: cl("x", "")}),
		Assignments: map[string]int{"Z9.B000009.1_1_F.1.1": 0},
		Vocabulary:  vocabulary(),
	})
	var fce *types.ForeignCellError
	require.ErrorAs(t, err, &fce)
	assert.Equal(t, []string{"Z9.B000009.1_1_F.1.1"}, fce.CellIDs)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	err := f.wf.Validate(labelFile(types.TopPass, "", types.ClusterLabelMap{
		0: cl("", "pancreatic A cell"),
		1: cl("", "bogus"),
		2: cl("", "bogus"),
	}), vocabulary())
	var ove *types.OntologyValidationError
	require.ErrorAs(t, err, &ove)
	assert.Equal(t, []string{"bogus"}, ove.Labels)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	f.annotateTop(t)

	embedding := map[string]tabular.Point{
		"A1.B000001.3_38_F.1.1": {X: 1, Y: 2},
		"A2.B000001.3_38_F.1.1": {X: 3, Y: 4},
		"A3.B000001.3_38_F.1.1": {X: 5, Y: 6},
		"B1.B000002.3_39_M.1.1": {X: 7, Y: 8},
	}
	var buf bytes.Buffer
	info, err := f.wf.Export(context.Background(), ExportInput{
		Tissue: "Pancreas", Pass: types.TopPass, Embedding: embedding, Out: &buf, Publish: true,
	})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Pancreas/top.csv", info.Key)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "A1.B000001.3_38_F.1.1,B000001,pancreatic A cell,CL:0000171,alpha,1,2", lines[1])
	assert.Equal(t, "B1.B000002.3_39_M.1.1,B000002,,,,7,8", lines[4])

	_, err = f.wf.Export(context.Background(), ExportInput{Tissue: "Pancreas", Pass: "missing"})
	assert.ErrorIs(t, err, types.ErrPassNotFound)
}

func TestAnnotateRejectsAncestorCycle(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	f.annotateTop(t)

	annotate := func(pass, parent string, assignments map[string]int) error {
		_, err := f.wf.Annotate(AnnotateInput{
			Labels:      labelFile(pass, parent, types.ClusterLabelMap{0: cl(pass, "")}),
			Assignments: assignments,
			Vocabulary:  vocabulary(),
		})
		return err
	}
	require.NoError(t, annotate("endocrine", types.TopPass, map[string]int{"A2.B000001.3_38_F.1.1": 0, "A3.B000001.3_38_F.1.1": 0}))
	require.NoError(t, annotate("delta", "endocrine", map[string]int{"A3.B000001.3_38_F.1.1": 0}))

	err := annotate("endocrine", "delta", map[string]int{"A3.B000001.3_38_F.1.1": 0})
	require.ErrorIs(t, err, types.ErrInvalidData)

	err = annotate("delta", "delta", map[string]int{"A3.B000001.3_38_F.1.1": 0})
	require.ErrorIs(t, err, types.ErrInvalidData)

	top, _, err := f.atlas.LoadPass("Pancreas", types.TopPass)
	require.NoError(t, err)
	endocrine, _, err := f.atlas.LoadPass("Pancreas", "endocrine")
	require.NoError(t, err)
	require.NotNil(t, endocrine.ParentID)
	assert.Equal(t, top.PassID, *endocrine.ParentID, "parent unchanged")
}

type failingAtlas struct {
	types.Atlas
	err error
}

func (a failingAtlas) SaveCells(*types.CellTable) error { return a.err }

func (a failingAtlas) SavePass(types.Pass, *types.CellTable) (types.Pass, error) {
	return types.Pass{}, a.err
}

func TestStoreFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantStore bool
	}{
		{"io failure", errors.New("disk I/O error"), true},
		{"duplicate cell", fmt.Errorf("cell x: %w", types.ErrDuplicateCell), false},
		{"invalid name", types.ErrInvalidName, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ingest(t)
			wf := New(failingAtlas{Atlas: f.atlas, err: tt.err}, f.wf.cfg)

			_, err := wf.Ingest(IngestInput{
				Tissue:     "Pancreas",
				MatrixPath: filepath.Join(f.dir, "counts.csv"),
				PlatesPath: filepath.Join(f.dir, "plates.csv"),
			})
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantStore, errors.Is(err, ErrStore))

			_, err = wf.Annotate(AnnotateInput{
				Labels:      labelFile(types.TopPass, "", types.ClusterLabelMap{0: cl("all", "")}),
				Assignments: map[string]int{"A1.B000001.3_38_F.1.1": 0, "A2.B000001.3_38_F.1.1": 0, "A3.B000001.3_38_F.1.1": 0, "B1.B000002.3_39_M.1.1": 0},
				Vocabulary:  vocabulary(),
			})
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantStore, errors.Is(err, ErrStore))
		})
	}
}

func TestPassesAcrossTissues(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)
	f.annotateTop(t)

	liver := &types.CellTable{Tissue: "Liver", Cells: []types.CellRecord{{CellID: "C1.B000003.3_40_F.1.1", PlateBarcode: "B000003"}}}
	require.NoError(t, f.atlas.SaveCells(liver))
	liver.Cells[0].ClusterID = types.IntPtr(0)
	_, err := f.atlas.SavePass(types.Pass{Tissue: "Liver", Name: types.TopPass}, liver)
	require.NoError(t, err)

	passes, err := f.wf.Passes("")
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, "Liver", passes[0].Tissue)
	assert.Equal(t, "Pancreas", passes[1].Tissue)

	passes, err = f.wf.Passes("Pancreas")
	require.NoError(t, err)
	require.Len(t, passes, 1)
}

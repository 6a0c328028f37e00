package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tabula/internal/labels"
	"github.com/mesh-intelligence/tabula/internal/workflow"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

const (
	testCounts = `"",A2.B000001.3_38_F.1.1,A1.B000001.3_38_F.1.1,B1.B000002.3_39_M.1.1
Gcg,12,30,0
Ins2,0,0,40
Rpl13,3,2,5
ERCC-00002,0,8,5
`
	testPlates = `plate.barcode,mouse.id,mouse.sex
B000001,3_38_F,F
B000002,3_39_M,M
`
	testOntology = `id,name
CL:0000171,pancreatic A cell
CL:0000169,type B pancreatic cell
CL:0000173,pancreatic D cell
`
	testConfig = `backend: sqlite
ontology: cl.csv
qc:
  min_genes: 1
artifact:
  driver: fs
  root: artifacts
`
	topLabels = `tissue: Pancreas
pass: top
clusters:
  0: {free_annotation: alpha, cell_ontology_class: pancreatic A cell}
  1: {free_annotation: beta, cell_ontology_class: type B pancreatic cell}
`
	badLabels = `tissue: Pancreas
clusters:
  0: {cell_ontology_class: pancreatic A cel}
  1: {cell_ontology_class: beta cell}
`
	topAssignments = `cell_id,cluster
A1.B000001.3_38_F.1.1,0
A2.B000001.3_38_F.1.1,0
B1.B000002.3_39_M.1.1,1
`
	testEmbedding = `cell_id,x,y
A1.B000001.3_38_F.1.1,1.5,2
A2.B000001.3_38_F.1.1,-1,0.5
B1.B000002.3_39_M.1.1,4,4
`
)

type env struct {
	dir       string
	configDir string
	dataDir   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir, configDir: filepath.Join(dir, "config"), dataDir: filepath.Join(dir, "data")}
	require.NoError(t, os.MkdirAll(e.configDir, 0o755))
	e.write(t, "config/config.yaml", testConfig)
	e.write(t, "config/cl.csv", testOntology)
	e.write(t, "counts.csv", testCounts)
	e.write(t, "plates.csv", testPlates)
	e.write(t, "top.yaml", topLabels)
	e.write(t, "bad.yaml", badLabels)
	e.write(t, "top-clusters.csv", topAssignments)
	e.write(t, "tsne.csv", testEmbedding)
	return e
}

func (e *env) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
}

func (e *env) path(name string) string { return filepath.Join(e.dir, name) }

// run executes one tabula invocation and returns its stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func (e *env) ingestAndAnnotate(t *testing.T) {
	t.Helper()
	e.mustRun(t, "ingest", "--tissue", "Pancreas", "--matrix", e.path("counts.csv"), "--plates", e.path("plates.csv"))
	e.mustRun(t, "annotate", e.path("top.yaml"), "--assignments", e.path("top-clusters.csv"))
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun(t, "version")
	assert.Contains(t, out, "tabula v")
	assert.Contains(t, out, modulePath)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config-dir", filepath.Join(dir, "cfg"), "--data-dir", filepath.Join(dir, "db"), "init"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "tabula initialized")
	assert.FileExists(t, filepath.Join(dir, "cfg", "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, "db", "cells.jsonl"))

	data, err := os.ReadFile(filepath.Join(dir, "cfg", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: sqlite")
	assert.Contains(t, string(data), "min_genes: 500")
}

func TestIngestAnnotateExport(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "ingest", "--tissue", "Pancreas", "--matrix", e.path("counts.csv"), "--plates", e.path("plates.csv"))
	assert.Contains(t, out, "ingested Pancreas: 3 cells")

	out = e.mustRun(t, "annotate", e.path("top.yaml"), "--assignments", e.path("top-clusters.csv"))
	assert.Contains(t, out, "annotated Pancreas/top: 3 cells")

	out = e.mustRun(t, "export", "--tissue", "Pancreas", "--embedding", e.path("tsne.csv"))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "cell,plate.barcode,cell_ontology_class,cell_ontology_id,free_annotation,tSNE_1,tSNE_2", lines[0])
	assert.Equal(t, "A1.B000001.3_38_F.1.1,B000001,pancreatic A cell,CL:0000171,alpha,1.5,2", lines[1])
	assert.Equal(t, "B1.B000002.3_39_M.1.1,B000002,type B pancreatic cell,CL:0000169,beta,4,4", lines[3])
}

func TestExportPublish(t *testing.T) {
	e := newEnv(t)
	e.ingestAndAnnotate(t)

	local := e.path("export.csv")
	e.mustRun(t, "export", "--tissue", "Pancreas", "--out", local, "--publish")
	assert.FileExists(t, local)
	assert.FileExists(t, filepath.Join(e.configDir, "artifacts", "Pancreas", "top.csv"))

	_, err := e.run(t, "export", "--tissue", "Pancreas", "--publish")
	require.Error(t, err, "artifacts are create-only")
}

func TestSelectWritesCellIDs(t *testing.T) {
	e := newEnv(t)
	e.ingestAndAnnotate(t)

	out := e.mustRun(t, "select", "--tissue", "Pancreas", "--clusters", "0")
	assert.Equal(t, "cell_id\nA1.B000001.3_38_F.1.1\nA2.B000001.3_38_F.1.1\n", out)
}

func TestSubclusterPass(t *testing.T) {
	e := newEnv(t)
	e.ingestAndAnnotate(t)

	e.write(t, "alpha.yaml", `tissue: Pancreas
pass: alpha
parent: top
clusters:
  0: {free_annotation: alpha, cell_ontology_class: pancreatic A cell}
  1: {free_annotation: delta, cell_ontology_class: pancreatic D cell}
`)
	e.write(t, "alpha-clusters.csv", "cell_id,cluster\nA1.B000001.3_38_F.1.1,0\nA2.B000001.3_38_F.1.1,1\n")

	out := e.mustRun(t, "annotate", e.path("alpha.yaml"), "--assignments", e.path("alpha-clusters.csv"))
	assert.Contains(t, out, "merged into top")

	out = e.mustRun(t, "export", "--tissue", "Pancreas")
	assert.Contains(t, out, "A2.B000001.3_38_F.1.1,B000001,pancreatic D cell,CL:0000173,delta,,")

	out = e.mustRun(t, "--json", "passes", "--tissue", "Pancreas")
	var passes []types.Pass
	require.NoError(t, json.Unmarshal([]byte(out), &passes))
	require.Len(t, passes, 2)
	assert.Equal(t, "top", passes[0].Name)
	assert.Equal(t, "alpha", passes[1].Name)
	require.NotNil(t, passes[1].ParentID)
	assert.Equal(t, passes[0].PassID, *passes[1].ParentID)
}

func TestValidateReportsEveryBadLabel(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "validate", e.path("bad.yaml"))
	var ove *types.OntologyValidationError
	require.ErrorAs(t, err, &ove)
	assert.ElementsMatch(t, []string{"pancreatic A cel", "beta cell"}, ove.Labels)
	assert.Equal(t, exitUserError, exitCode(err))

	out := e.mustRun(t, "validate", e.path("top.yaml"))
	assert.Contains(t, out, "all labels valid")
}

func TestUnmatchedBarcodeIsUserError(t *testing.T) {
	e := newEnv(t)
	e.write(t, "plates.csv", "plate.barcode,mouse.id\nB000001,3_38_F\n")

	_, err := e.run(t, "ingest", "--tissue", "Pancreas", "--matrix", e.path("counts.csv"), "--plates", e.path("plates.csv"))
	require.ErrorIs(t, err, types.ErrMetadataJoin)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestMissingOntology(t *testing.T) {
	e := newEnv(t)
	e.write(t, "config/config.yaml", "backend: sqlite\n")

	_, err := e.run(t, "validate", e.path("top.yaml"))
	assert.ErrorIs(t, err, errNoOntology)

	out := e.mustRun(t, "--ontology", filepath.Join(e.configDir, "cl.csv"), "validate", e.path("top.yaml"))
	assert.Contains(t, out, "all labels valid")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitSuccess},
		{"user error", types.ErrPassNotFound, exitUserError},
		{"wrapped user error", fmt.Errorf("export: %w", types.ErrPassNotFound), exitUserError},
		{"system error", sysErr(errors.New("disk full")), exitSysError},
		{"wrapped system error", fmt.Errorf("ingest: %w", sysErr(errors.New("disk full"))), exitSysError},
		{"atlas write failure", fmt.Errorf("annotate: saving passes: %w: %w", workflow.ErrStore, errors.New("database is locked")), exitSysError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestMetricsFile(t *testing.T) {
	e := newEnv(t)
	e.write(t, "config/config.yaml", testConfig+"metrics_file: run.prom\n")

	a := newApp()
	root := a.rootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir,
		"ingest", "--tissue", "Pancreas", "--matrix", e.path("counts.csv"), "--plates", e.path("plates.csv")})
	require.NoError(t, root.Execute())
	require.NoError(t, a.flushMetrics())

	data, err := os.ReadFile(filepath.Join(e.configDir, "run.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `tabula_steps_total{outcome="ok",step="ingest"} 1`)
}

func TestSelectWritesLabelScaffold(t *testing.T) {
	e := newEnv(t)
	e.ingestAndAnnotate(t)

	scaffold := e.path("alpha.yaml")
	e.mustRun(t, "select", "--tissue", "Pancreas", "--clusters", "0", "--out", e.path("alpha-cells.csv"),
		"--labels-out", scaffold, "--name", "alpha")

	f, err := labels.Load(scaffold)
	require.NoError(t, err)
	assert.Equal(t, "Pancreas", f.Tissue)
	assert.Equal(t, "alpha", f.Pass)
	assert.Equal(t, "top", f.Parent)
	assert.Equal(t, []int{0}, f.Clusters.ClusterIDs())
	assert.Equal(t, types.ClusterLabel{}, f.Clusters[0])

	_, err = e.run(t, "select", "--tissue", "Pancreas", "--clusters", "0", "--labels-out", scaffold)
	assert.Error(t, err, "scaffold needs a pass name")
}

func TestPassesWithoutTissue(t *testing.T) {
	e := newEnv(t)
	e.ingestAndAnnotate(t)

	out := e.mustRun(t, "passes")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "TISSUE"))
	assert.True(t, strings.HasPrefix(lines[1], "Pancreas"))
}

func TestDataDirPrecedence(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	fromConfig := filepath.Join(dir, "from-config")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"),
		[]byte("backend: sqlite\ndata_dir: "+fromConfig+"\n"), 0o644))
	t.Setenv("TABULA_DATA_DIR", filepath.Join(dir, "from-env"))

	initDataDir := func(args ...string) string {
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append([]string{"--config-dir", configDir, "--json"}, append(args, "init")...))
		require.NoError(t, root.Execute())
		var got map[string]string
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		return got["data_dir"]
	}

	fromFlag := filepath.Join(dir, "from-flag")
	assert.Equal(t, fromFlag, initDataDir("--data-dir", fromFlag))
	assert.Equal(t, fromConfig, initDataDir())
}

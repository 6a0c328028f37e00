package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mesh-intelligence/tabula/internal/artifact"
	"github.com/mesh-intelligence/tabula/internal/ontology"
	"github.com/mesh-intelligence/tabula/internal/sqlite"
	"github.com/mesh-intelligence/tabula/internal/workflow"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// errNoOntology is returned when a command needs a vocabulary and none is
// configured.
var errNoOntology = errors.New("no ontology configured: set ontology in config.yaml or pass --ontology")

// attachBackend creates a SQLite backend and attaches it to the configured
// data directory. The caller must Detach it.
func (a *app) attachBackend() (*sqlite.Backend, error) {
	backend := sqlite.NewBackend()
	if err := backend.Attach(a.cfg); err != nil {
		return nil, sysErr(fmt.Errorf("attach backend: %w", err))
	}
	return backend, nil
}

// openWorkflow attaches the backend and opens the artifact store. The
// returned function detaches the backend.
func (a *app) openWorkflow(ctx context.Context) (*workflow.Workflow, func(), error) {
	backend, err := a.attachBackend()
	if err != nil {
		return nil, nil, err
	}
	store, err := artifact.Open(ctx, a.cfg.Artifact)
	if err != nil {
		backend.Detach()
		return nil, nil, sysErr(fmt.Errorf("open artifact store: %w", err))
	}
	opts := []workflow.Option{workflow.WithLogger(a.log), workflow.WithMetrics(a.metrics)}
	if store != nil {
		opts = append(opts, workflow.WithArtifactStore(store))
	}
	wf := workflow.New(backend, a.cfg, opts...)
	return wf, func() { backend.Detach() }, nil
}

// vocabulary loads the configured cell ontology.
func (a *app) vocabulary() (*types.Vocabulary, error) {
	if a.cfg.Ontology == "" {
		return nil, errNoOntology
	}
	return ontology.Load(a.cfg.Ontology)
}

// createOutput opens path for writing, or returns stdout when path is empty
// or "-". The returned function closes the file.
func createOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, sysErr(fmt.Errorf("create %s: %w", path, err))
	}
	return f, f.Close, nil
}

// Package labels reads the analyst-authored cluster label files.
//
// A label file names the tissue and pass it belongs to and maps each cluster
// id of that pass to a free-text annotation and an ontology class:
//
//	tissue: Pancreas
//	pass: endocrine
//	parent: top
//	clusters:
//	  0: {free_annotation: alpha, cell_ontology_class: pancreatic A cell}
//	  1: {free_annotation: beta, cell_ontology_class: type B pancreatic cell}
//	  2: {}   # undetermined
package labels

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// ErrNoClusters is returned for a label file without cluster entries.
var ErrNoClusters = errors.New("label file has no clusters")

// File is the decoded form of a label file.
type File struct {
	Tissue   string                `yaml:"tissue"`
	Pass     string                `yaml:"pass"`
	Parent   string                `yaml:"parent,omitempty"`
	Clusters types.ClusterLabelMap `yaml:"clusters"`
}

// Read decodes a label file. Unknown keys are rejected so that a misspelt
// field name does not silently leave clusters undetermined. Blank labels
// are treated as undetermined; any other label is kept byte for byte.
func Read(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoClusters
		}
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	if len(f.Clusters) == 0 {
		return nil, ErrNoClusters
	}
	for id, l := range f.Clusters {
		f.Clusters[id] = types.ClusterLabel{
			FreeAnnotation:    blankToNil(l.FreeAnnotation),
			CellOntologyClass: blankToNil(l.CellOntologyClass),
		}
	}
	if f.Pass == "" {
		f.Pass = types.TopPass
	}
	return &f, nil
}

// Load reads the label file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Read(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Write encodes f as YAML.
func Write(w io.Writer, f *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return enc.Close()
}

// Scaffold returns a label file for a subcluster pass of parent with every
// cluster id undetermined, ready for the analyst to fill in.
func Scaffold(tissue, pass, parent string, clusterIDs []int) *File {
	f := &File{Tissue: tissue, Pass: pass, Parent: parent, Clusters: types.ClusterLabelMap{}}
	for _, id := range clusterIDs {
		f.Clusters[id] = types.ClusterLabel{}
	}
	return f
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

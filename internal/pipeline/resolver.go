package pipeline

import "github.com/mesh-intelligence/tabula/pkg/types"

// Resolve maps an ontology class name to its identifier. A nil label resolves
// to nil. When several terms share the name, the first in vocabulary order
// wins; the order of the source file is therefore part of the result and
// must stay fixed between runs. A label without any term returns an
// OntologyResolutionError: callers validate first, so this means a skipped
// validation.
func Resolve(label *string, vocab *types.Vocabulary) (*string, error) {
	if label == nil {
		return nil, nil
	}
	terms := vocab.Lookup(*label)
	if len(terms) == 0 {
		return nil, &types.OntologyResolutionError{Label: *label}
	}
	id := terms[0].ID
	return &id, nil
}

// ResolveAll resolves labels element-wise. The first unresolvable label
// fails the whole call.
func ResolveAll(labels []*string, vocab *types.Vocabulary) ([]*string, error) {
	out := make([]*string, len(labels))
	for i, l := range labels {
		id, err := Resolve(l, vocab)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

package pipeline

import "github.com/mesh-intelligence/tabula/pkg/types"

// Validate checks that every non-nil label is an exact name in vocab. All
// invalid labels are reported at once, each distinct label once, in the
// order first seen, so the analyst can fix every cluster in one round.
func Validate(labels []*string, vocab *types.Vocabulary) error {
	seen := make(map[string]bool)
	var invalid []string
	for _, l := range labels {
		if l == nil || vocab.Contains(*l) || seen[*l] {
			continue
		}
		seen[*l] = true
		invalid = append(invalid, *l)
	}
	if len(invalid) > 0 {
		return &types.OntologyValidationError{Labels: invalid}
	}
	return nil
}

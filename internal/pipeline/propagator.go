package pipeline

import (
	"fmt"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Apply labels every cell of table from the label of its cluster. Every
// cluster id present must be in labels, otherwise an UnmappedClusterError
// lists all missing ids. Every ontology class in labels is validated against
// vocab, including classes of clusters absent from the table, and resolved to
// its id. A cell without a cluster id fails with ErrUnclusteredCell.
//
// The returned table is new; table is not modified. Applying the same labels
// to the same clustering always yields equal annotations.
func Apply(table *types.CellTable, labels types.ClusterLabelMap, vocab *types.Vocabulary) (*types.CellTable, error) {
	for _, c := range table.Cells {
		if c.ClusterID == nil {
			return nil, fmt.Errorf("%w: %q", types.ErrUnclusteredCell, c.CellID)
		}
	}

	var missing []int
	for _, id := range table.ClusterIDs() {
		if _, ok := labels[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &types.UnmappedClusterError{ClusterIDs: missing}
	}

	classes := labels.OntologyClasses()
	if err := Validate(classes, vocab); err != nil {
		return nil, err
	}
	ontologyIDs, err := ResolveAll(classes, vocab)
	if err != nil {
		return nil, err
	}

	resolved := make(map[int]types.Annotation, len(labels))
	for i, id := range labels.ClusterIDs() {
		resolved[id] = types.Annotation{
			FreeAnnotation:    labels[id].FreeAnnotation,
			CellOntologyClass: labels[id].CellOntologyClass,
			CellOntologyID:    ontologyIDs[i],
		}
	}

	out := table.Clone()
	for i := range out.Cells {
		out.Cells[i].Annotation = resolved[*out.Cells[i].ClusterID].Clone()
	}
	return out, nil
}

// MergeSubcluster overwrites the annotations of parent with those of sub for
// exactly the cells sub contains. Cells of parent not in sub keep their
// annotations, and every other field of parent (cluster ids included) is left
// as it was. A cell of sub missing from parent fails the whole merge with a
// ForeignCellError listing every such cell.
func MergeSubcluster(parent, sub *types.CellTable) (*types.CellTable, error) {
	idx := parent.Index()
	var foreign []string
	for _, c := range sub.Cells {
		if _, ok := idx[c.CellID]; !ok {
			foreign = append(foreign, c.CellID)
		}
	}
	if len(foreign) > 0 {
		return nil, &types.ForeignCellError{CellIDs: foreign}
	}

	out := parent.Clone()
	for _, c := range sub.Cells {
		out.Cells[idx[c.CellID]].Annotation = c.Annotation.Clone()
	}
	return out, nil
}

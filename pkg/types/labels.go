package types

import "sort"

// ClusterLabel is the analyst's label for one cluster. Nil fields mean the
// cluster is undetermined for that label system.
type ClusterLabel struct {
	FreeAnnotation    *string `json:"free_annotation" yaml:"free_annotation,omitempty"`
	CellOntologyClass *string `json:"cell_ontology_class" yaml:"cell_ontology_class,omitempty"`
}

// ClusterLabelMap maps the cluster ids of one clustering pass to labels.
type ClusterLabelMap map[int]ClusterLabel

// ClusterIDs returns the mapped cluster ids, ascending.
func (m ClusterLabelMap) ClusterIDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OntologyClasses returns the ontology class of every entry in ascending
// cluster order, nil entries included.
func (m ClusterLabelMap) OntologyClasses() []*string {
	ids := m.ClusterIDs()
	out := make([]*string, len(ids))
	for i, id := range ids {
		out[i] = m[id].CellOntologyClass
	}
	return out
}

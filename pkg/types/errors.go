package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Pipeline sentinels. Every typed error below unwraps to one of these so
// callers can test with errors.Is.
var (
	ErrMetadataJoin       = errors.New("plate metadata join failed")
	ErrMalformedCellID    = errors.New("malformed cell id")
	ErrOntologyValidation = errors.New("labels not in ontology")
	ErrOntologyResolution = errors.New("label has no ontology id")
	ErrUnmappedCluster    = errors.New("cluster has no label")
	ErrForeignCell        = errors.New("cell not in parent population")
	ErrUnclusteredCell    = errors.New("cell has no cluster id")
	ErrUnassignedCell     = errors.New("cell has no cluster assignment")
	ErrDuplicatePlate     = errors.New("duplicate plate barcode")
	ErrDuplicateCell      = errors.New("duplicate cell id")
	ErrMissingEmbedding   = errors.New("cell has no embedding coordinates")
)

// Storage sentinels.
var (
	ErrAtlasDetached   = errors.New("atlas is detached")
	ErrAlreadyAttached = errors.New("atlas is already attached")
	ErrTissueNotFound  = errors.New("tissue not found")
	ErrPassNotFound    = errors.New("pass not found")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidData     = errors.New("invalid data")
)

// MetadataJoinError lists every cell whose plate barcode has no plate row.
type MetadataJoinError struct {
	CellIDs []string
}

func (e *MetadataJoinError) Error() string {
	return fmt.Sprintf("%s: no plate metadata for %d cell(s): %s",
		ErrMetadataJoin, len(e.CellIDs), strings.Join(e.CellIDs, ", "))
}

func (e *MetadataJoinError) Unwrap() error { return ErrMetadataJoin }

// CellIDError reports a cell id the plate barcode rule cannot split.
type CellIDError struct {
	CellID string
}

func (e *CellIDError) Error() string {
	return fmt.Sprintf("%s: %q (want <well>.<plate>.<...>_<...>)", ErrMalformedCellID, e.CellID)
}

func (e *CellIDError) Unwrap() error { return ErrMalformedCellID }

// OntologyValidationError lists every distinct invalid label, in the order
// they were first seen.
type OntologyValidationError struct {
	Labels []string
}

func (e *OntologyValidationError) Error() string {
	quoted := make([]string, len(e.Labels))
	for i, l := range e.Labels {
		quoted[i] = strconv.Quote(l)
	}
	return fmt.Sprintf("%s: %s", ErrOntologyValidation, strings.Join(quoted, ", "))
}

func (e *OntologyValidationError) Unwrap() error { return ErrOntologyValidation }

// OntologyResolutionError is raised when a label reaches the resolver
// without a vocabulary entry. Seeing it means validation was skipped.
type OntologyResolutionError struct {
	Label string
}

func (e *OntologyResolutionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrOntologyResolution, e.Label)
}

func (e *OntologyResolutionError) Unwrap() error { return ErrOntologyResolution }

// UnmappedClusterError lists cluster ids present in the data but absent
// from the label map, ascending.
type UnmappedClusterError struct {
	ClusterIDs []int
}

func (e *UnmappedClusterError) Error() string {
	ids := make([]string, len(e.ClusterIDs))
	for i, id := range e.ClusterIDs {
		ids[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("%s: %s", ErrUnmappedCluster, strings.Join(ids, ", "))
}

func (e *UnmappedClusterError) Unwrap() error { return ErrUnmappedCluster }

// ForeignCellError lists subcluster cells that the parent population does
// not contain.
type ForeignCellError struct {
	CellIDs []string
}

func (e *ForeignCellError) Error() string {
	return fmt.Sprintf("%s: %d cell(s): %s",
		ErrForeignCell, len(e.CellIDs), strings.Join(e.CellIDs, ", "))
}

func (e *ForeignCellError) Unwrap() error { return ErrForeignCell }

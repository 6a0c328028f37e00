// Package types defines the cell table, plate metadata, ontology vocabulary
// and cluster label types shared by every tabula component, together with the
// Atlas storage interface and the standard error types.
package types

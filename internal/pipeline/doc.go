// Package pipeline implements the annotation steps applied to a tissue's cell
// table: plate metadata merge, quality filtering, cluster assignment,
// ontology validation and resolution, label propagation and subcluster
// merge. Every step is a pure function over its inputs and returns a new
// table; nothing here keeps state between calls.
package pipeline

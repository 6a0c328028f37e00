package types

import "time"

// TopPass is the conventional name of the whole-tissue clustering pass.
const TopPass = "top"

// Pass is one labeled clustering run over a tissue. A subcluster pass names
// the pass it refines in ParentID.
type Pass struct {
	PassID    string    `json:"pass_id"` // UUID v7, generated when first saved.
	Tissue    string    `json:"tissue"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

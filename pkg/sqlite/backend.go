// Package sqlite exposes the SQLite Atlas backend while keeping its
// implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/tabula/internal/sqlite"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	atlas := sqlite.NewBackend()
//	err := atlas.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".tabula-db",
//	})
//	defer atlas.Detach()
func NewBackend() types.Atlas {
	return sqlite.NewBackend()
}

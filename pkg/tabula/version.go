// Package tabula holds build metadata of the tabula module.
package tabula

// Version is the release of the tabula CLI and libraries.
const Version = "0.1.0"

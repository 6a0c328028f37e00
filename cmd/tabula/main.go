// Command tabula annotates plate-based single-cell tissue atlases.
package main

import "github.com/mesh-intelligence/tabula/internal/cli"

func main() {
	cli.Execute()
}

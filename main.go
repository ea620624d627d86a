// The main package for the catalog-ingest executable.
package main

import (
	"github.com/JakeFAU/catalog-ingest/cmd"
)

func main() {
	cmd.Execute()
}

// Command sqlkit resolves and runs SQL templates from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/syssam/sqlkit/cmd/sqlkit/commands"
)

// Version is set by the build.
var Version = "dev"

func main() {
	root := commands.NewRootCommand(afero.NewOsFs())
	root.Version = Version
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

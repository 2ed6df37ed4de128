// Command knot runs the bundled knot applications and inspects their journals.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/knot/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	// Errors already rendered by a command are not printed twice
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", cmd.CommandPath())
	}
	os.Exit(cli.GetExitCode(err))
}

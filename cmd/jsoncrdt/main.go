// Command jsoncrdt runs replicas, relays and checks for replicated JSON
// documents.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/jsoncrdt/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

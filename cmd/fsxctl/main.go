// Package main provides the fsxctl binary: a thin CLI front-end to a
// running fsxd instance, talking only to its RPC surface. Grounded on
// ivoronin-dupedog's cobra-based cmd/dupedog layout: a root command with
// one file per subcommand, cobra.Command.RunE returning errors instead of
// calling os.Exit directly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var addr string

	root := &cobra.Command{
		Use:     "fsxctl",
		Short:   "Inspect and manipulate a running fsxd instance",
		Version: version,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "fsxd RPC base URL")

	root.AddCommand(
		newStatCmd(&addr),
		newLsCmd(&addr),
		newMkdirCmd(&addr),
		newRmCmd(&addr),
		newCatCmd(&addr),
		newWriteCmd(&addr),
		newAppendCmd(&addr),
		newTruncateCmd(&addr),
		newDedupStatsCmd(&addr),
		newExecCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

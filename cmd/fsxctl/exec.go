package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dot-do/fsx/internal/exec"
)

// newExecCmd wires the container-exec bridge adjunct: fsxctl runs a local
// command and reports its captured output and exit status, for scripting
// around a running fsxd instance (e.g. a post-write validation hook)
// without giving fsxd itself a remote-execution surface.
func newExecCmd() *cobra.Command {
	var timeoutSec int
	cmd := &cobra.Command{
		Use:                "exec -- <command> [args...]",
		Short:              "Run a local command with a bounded timeout",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := exec.NewRunner(time.Duration(timeoutSec) * time.Second)
			result, err := runner.Run(context.Background(), "", args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, result.Stdout)
			fmt.Fprint(os.Stderr, result.Stderr)
			if result.ExitCode != 0 {
				os.Exit(result.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSec, "timeout", 30, "command timeout in seconds (0 disables)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dot-do/fsx/internal/domain"
)

func newStatCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show metadata for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			var n domain.Inode
			if err := c.call("stat", map[string]any{"path": args[0]}, &n); err != nil {
				return err
			}
			fmt.Printf("path:  %s\n", n.Path)
			fmt.Printf("type:  %s\n", n.Type)
			fmt.Printf("size:  %s (%d bytes)\n", humanize.Bytes(uint64(n.Size)), n.Size)
			fmt.Printf("mode:  %#o\n", n.Mode)
			fmt.Printf("links: %d\n", n.NLink)
			return nil
		},
	}
}

func newLsCmd(addr *string) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			var entries []domain.Inode
			params := map[string]any{"path": args[0], "recursive": recursive}
			if err := c.call("readdir", params, &entries); err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%-8s %10s  %s\n", e.Type, humanize.Bytes(uint64(e.Size)), e.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list recursively")
	return cmd
}

func newMkdirCmd(addr *string) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			return c.call("mkdir", map[string]any{"path": args[0], "recursive": recursive}, nil)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "parents", "p", false, "create parent directories as needed")
	return cmd
}

func newRmCmd(addr *string) *cobra.Command {
	var recursive, force bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			return c.call("rm", map[string]any{"path": args[0], "recursive": recursive, "force": force}, nil)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents recursively")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore nonexistent paths")
	return cmd
}

func newCatCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			var result struct {
				Data string `json:"data"`
			}
			if err := c.call("read", map[string]any{"path": args[0]}, &result); err != nil {
				return err
			}
			return decodeAndWrite(result.Data)
		},
	}
}

func newDedupStatsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dedup-stats",
		Short: "Show blob deduplication effectiveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*addr)
			var stats domain.DedupStats
			if err := c.call("getDedupStats", nil, &stats); err != nil {
				return err
			}
			fmt.Printf("total blobs:  %d\n", stats.TotalBlobs)
			fmt.Printf("total refs:   %d\n", stats.TotalRefs)
			fmt.Printf("dedup ratio:  %.2fx\n", stats.DedupRatio)
			fmt.Printf("bytes saved:  %s\n", humanize.Bytes(uint64(stats.SavedBytes)))
			return nil
		},
	}
}

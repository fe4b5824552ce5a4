package main

import (
	"encoding/base64"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// decodeAndWrite base64-decodes data (the RPC surface's binary-safe
// payload shape) and writes it to stdout.
func decodeAndWrite(data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

// readStdin slurps stdin for the write/append commands, which take their
// payload piped in rather than as a command-line argument.
func readStdin() (string, error) {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func newWriteCmd(addr *string) *cobra.Command {
	var create, exclusive bool
	cmd := &cobra.Command{
		Use:   "write <path>",
		Short: "Replace a file's contents with stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readStdin()
			if err != nil {
				return err
			}
			c := newClient(*addr)
			return c.call("write", map[string]any{
				"path": args[0], "data": data, "create": create, "exclusive": exclusive,
			}, nil)
		},
	}
	cmd.Flags().BoolVarP(&create, "create", "c", false, "create the file if it doesn't exist")
	cmd.Flags().BoolVarP(&exclusive, "exclusive", "x", false, "fail if the file already exists")
	return cmd
}

func newAppendCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "append <path>",
		Short: "Append stdin to a file's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readStdin()
			if err != nil {
				return err
			}
			c := newClient(*addr)
			return c.call("append", map[string]any{"path": args[0], "data": data}, nil)
		},
	}
}

func newTruncateCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <path> <length>",
		Short: "Resize a file to length bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			length, err := parseInt64(args[1])
			if err != nil {
				return err
			}
			c := newClient(*addr)
			return c.call("truncate", map[string]any{"path": args[0], "length": length}, nil)
		},
	}
}

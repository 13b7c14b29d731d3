package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailfetch/purge"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge [directory]",
		Short: "Delete every file directly inside a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := purge.Dir(args[0], slog.Default())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files from %s\n", n, args[0])
			return nil
		},
	}
}

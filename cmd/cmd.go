// Package cmd holds the maintenance sub-commands that run next to the fetch
// pipeline.
package cmd

import (
	"github.com/spf13/cobra"
)

// Register adds every sub-command to root.
func Register(root *cobra.Command) {
	root.AddCommand(newPurgeCmd(), newChartCmd())
}

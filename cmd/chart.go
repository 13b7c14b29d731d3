package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailfetch/chart"
)

func newChartCmd() *cobra.Command {
	var sheet string

	c := &cobra.Command{
		Use:   "chart [workbook]",
		Short: "Add a column chart of the sheet's table to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			placement, err := chart.AddBarChart(args[0], chart.Options{Sheet: sheet})
			if errors.Is(err, chart.ErrNoData) {
				fmt.Fprintf(cmd.OutOrStdout(), "No data found in sheet %q of %s\n", sheet, args[0])
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Chart with %d series added to %s!%s\n", placement.Series, placement.Sheet, placement.Cell)
			return nil
		},
	}
	c.Flags().StringVar(&sheet, "sheet", chart.DefaultSheet, "Sheet holding the table")
	return c
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store contents summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "store stats")
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Driver:\t%s\n", stats.Driver)
		fmt.Fprintf(tw, "Schools:\t%d\n", stats.Schools)
		fmt.Fprintf(tw, "  with boundary:\t%d\n", stats.SchoolsWithBoundary)
		fmt.Fprintf(tw, "  fee-paying:\t%d\n", stats.SchoolsFeePaying)
		fmt.Fprintf(tw, "Admissions records:\t%d\n", stats.AdmissionsRecords)
		if stats.EarliestAcademicYear != "" {
			fmt.Fprintf(tw, "  years:\t%s to %s\n", stats.EarliestAcademicYear, stats.LatestAcademicYear)
		}
		return eris.Wrap(tw.Flush(), "flush table")
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

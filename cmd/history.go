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

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a school's admissions history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		urn, _ := cmd.Flags().GetString("school")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.AdmissionsHistory(ctx, urn)
		if err != nil {
			return eris.Wrapf(err, "admissions history %s", urn)
		}

		if len(records) == 0 {
			fmt.Printf("no admissions history for %s\n", urn)
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "YEAR\tPLACES\tAPPLICATIONS\tLAST DISTANCE\tWAITING LIST\tAPPEALS (UPHELD)")
		for _, r := range records {
			lastDistance := "-"
			if r.LastDistanceOffered != nil {
				lastDistance = fmt.Sprintf("%.2f km", *r.LastDistanceOffered)
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%d (%d)\n",
				r.AcademicYear, r.PlacesOffered, r.ApplicationsReceived,
				lastDistance, r.WaitingListOffers, r.AppealsHeard, r.AppealsUpheld)
		}
		return eris.Wrap(tw.Flush(), "flush table")
	},
}

func init() {
	historyCmd.Flags().String("school", "", "school URN (required)")
	_ = historyCmd.MarkFlagRequired("school")
	rootCmd.AddCommand(historyCmd)
}

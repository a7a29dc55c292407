package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/catchment-tools/schoolsearch-cli/internal/estimate"
	"github.com/catchment-tools/schoolsearch-cli/internal/geo"
	"github.com/catchment-tools/schoolsearch-cli/pkg/postcode"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate admissions likelihood for one school",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		urn, _ := cmd.Flags().GetString("school")

		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		if pc, _ := cmd.Flags().GetString("postcode"); pc != "" {
			client := postcode.NewClient(
				postcode.WithBaseURL(cfg.Postcode.BaseURL),
				postcode.WithRateLimit(cfg.Postcode.RateLimit),
			)
			result, err := client.Lookup(ctx, pc)
			if err != nil {
				return eris.Wrapf(err, "resolve postcode %s", pc)
			}
			lat, lng = result.Latitude, result.Longitude
		}
		if err := geo.ValidateCoordinate(lat, lng); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		school, err := st.GetSchool(ctx, urn)
		if err != nil {
			return eris.Wrapf(err, "get school %s", urn)
		}
		if school == nil {
			return eris.Errorf("school not found: %s", urn)
		}

		history, err := st.AdmissionsHistory(ctx, urn)
		if err != nil {
			return eris.Wrapf(err, "admissions history %s", urn)
		}

		distance := geo.DistanceKM(lat, lng, school.Latitude, school.Longitude)
		est, err := estimate.Estimate(history, distance)
		if err != nil {
			return err
		}

		printEstimate(os.Stdout, school, distance, est)
		return nil
	},
}

func init() {
	estimateCmd.Flags().String("school", "", "school URN (required)")
	estimateCmd.Flags().Float64("lat", 0, "origin latitude")
	estimateCmd.Flags().Float64("lng", 0, "origin longitude")
	estimateCmd.Flags().String("postcode", "", "origin postcode (alternative to --lat/--lng)")
	_ = estimateCmd.MarkFlagRequired("school")
	rootCmd.AddCommand(estimateCmd)
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catchment-tools/schoolsearch-cli/internal/model"
	"github.com/catchment-tools/schoolsearch-cli/internal/store"
	"github.com/catchment-tools/schoolsearch-cli/pkg/postcode"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List schools matching constraints, ordered by distance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cons, err := constraintsFromFlags(ctx, cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		results, err := st.SearchSchools(ctx, *cons)
		if err != nil {
			return eris.Wrap(err, "search schools")
		}

		zap.L().Info("search complete",
			zap.Int("results", len(results)),
			zap.Float64("origin_lat", cons.OriginLat),
			zap.Float64("origin_lng", cons.OriginLng),
		)

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		return writeSearchResults(results, format, output)
	},
}

// addConstraintFlags registers the shared search-constraint flags on a
// command. Both search and score take the same constraint surface.
func addConstraintFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("lat", 0, "origin latitude")
	cmd.Flags().Float64("lng", 0, "origin longitude")
	cmd.Flags().String("postcode", "", "origin postcode (alternative to --lat/--lng)")
	cmd.Flags().Float64("max-distance", 0, "maximum distance in km (0 = unlimited)")
	cmd.Flags().Int("age", 0, "child's age")
	cmd.Flags().Int("min-age", 0, "minimum age of an age range")
	cmd.Flags().Int("max-age", 0, "maximum age of an age range")
	cmd.Flags().String("gender", "any", "gender policy filter: any|coed|boys|girls")
	cmd.Flags().String("min-rating", "", "minimum inspection rating (e.g. good)")
	cmd.Flags().StringSlice("type", nil, "school types: maintained|academy|free|independent")
	cmd.Flags().StringSlice("faith", nil, "faith designations")
	cmd.Flags().Float64("max-fee", 0, "maximum termly fee for fee-paying schools")
	cmd.Flags().String("name", "", "school name substring")
	cmd.Flags().StringSlice("clubs", nil, "clubs the school must offer")
	cmd.Flags().Int("limit", 0, "page size (default from config)")
	cmd.Flags().Int("offset", 0, "page offset")
	cmd.Flags().String("sort", "distance", "result order: distance|name")
	cmd.Flags().String("format", "table", "output format: table|csv|json")
	cmd.Flags().String("output", "", "output file (default stdout)")
}

// constraintsFromFlags builds the canonical constraint value from the
// command's flags, resolving --postcode into coordinates when set.
func constraintsFromFlags(ctx context.Context, cmd *cobra.Command) (*store.Constraints, error) {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lng, _ := cmd.Flags().GetFloat64("lng")

	if pc, _ := cmd.Flags().GetString("postcode"); pc != "" {
		client := postcode.NewClient(
			postcode.WithBaseURL(cfg.Postcode.BaseURL),
			postcode.WithRateLimit(cfg.Postcode.RateLimit),
		)
		result, err := client.Lookup(ctx, pc)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve postcode %s", pc)
		}
		lat, lng = result.Latitude, result.Longitude
	}

	cons := store.Constraints{
		OriginLat: lat,
		OriginLng: lng,
	}

	if v, _ := cmd.Flags().GetFloat64("max-distance"); v > 0 {
		cons.MaxDistanceKM = &v
	}

	// --age pins a single-year range; --min-age/--max-age an explicit one.
	if age, _ := cmd.Flags().GetInt("age"); age > 0 {
		cons.MinAge = &age
		cons.MaxAge = &age
	} else {
		if v, _ := cmd.Flags().GetInt("min-age"); v > 0 {
			cons.MinAge = &v
		}
		if v, _ := cmd.Flags().GetInt("max-age"); v > 0 {
			cons.MaxAge = &v
		}
	}

	if v, _ := cmd.Flags().GetString("gender"); v != "" {
		cons.Gender = store.GenderFilter(v)
	}
	if v, _ := cmd.Flags().GetString("min-rating"); v != "" {
		rating, err := model.ParseRating(v)
		if err != nil {
			return nil, err
		}
		cons.MinRating = &rating
	}
	if types, _ := cmd.Flags().GetStringSlice("type"); len(types) > 0 {
		for _, t := range types {
			cons.SchoolTypes = append(cons.SchoolTypes, model.SchoolType(t))
		}
	}
	cons.Faiths, _ = cmd.Flags().GetStringSlice("faith")
	if v, _ := cmd.Flags().GetFloat64("max-fee"); v > 0 {
		cons.MaxFeePerTerm = &v
	}
	cons.NameContains, _ = cmd.Flags().GetString("name")
	cons.Clubs, _ = cmd.Flags().GetStringSlice("clubs")

	cons.Limit, _ = cmd.Flags().GetInt("limit")
	if cons.Limit == 0 && cfg.Search.DefaultLimit > 0 {
		cons.Limit = cfg.Search.DefaultLimit
	}
	cons.Offset, _ = cmd.Flags().GetInt("offset")
	if v, _ := cmd.Flags().GetString("sort"); v != "" {
		cons.Sort = store.SortOrder(v)
	}

	if err := cons.Validate(); err != nil {
		return nil, err
	}
	return &cons, nil
}

func init() {
	addConstraintFlags(searchCmd)
	rootCmd.AddCommand(searchCmd)
}

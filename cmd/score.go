package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catchment-tools/schoolsearch-cli/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Search and rank schools with weighted criteria",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cons, err := constraintsFromFlags(ctx, cmd)
		if err != nil {
			return err
		}

		weights, err := weightsFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		candidates, err := st.SearchSchools(ctx, *cons)
		if err != nil {
			return eris.Wrap(err, "search schools")
		}

		ranked, err := scorer.Score(candidates, weights, scorer.Preferences{Clubs: cons.Clubs})
		if err != nil {
			return err
		}

		if top, _ := cmd.Flags().GetInt("top"); top > 0 && len(ranked) > top {
			ranked = ranked[:top]
		}

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if err := writeScoredResults(ranked, format, output); err != nil {
			return err
		}

		// Weight-only what-if reuses the scored set; the repository is
		// not queried again.
		if whatIf, _ := cmd.Flags().GetString("what-if"); whatIf != "" {
			overrides, err := scorer.ParseWeightOverrides(whatIf)
			if err != nil {
				return err
			}
			reranked, err := scorer.Rescore(ranked, weights.Merge(overrides))
			if err != nil {
				return err
			}

			zap.L().Info("what-if rescore complete", zap.String("overrides", whatIf))
			fmt.Fprintf(os.Stdout, "\nWhat-if (%s):\n", whatIf)
			if err := writeScoredResults(reranked, format, ""); err != nil {
				return err
			}
		}

		return nil
	},
}

// weightsFromFlags resolves scoring weights: config defaults, then an
// optional YAML preset file, then individual flag overrides.
func weightsFromFlags(cmd *cobra.Command) (scorer.Weights, error) {
	weights := scorer.Weights(cfg.Scorer.Weights())

	if path, _ := cmd.Flags().GetString("weights-file"); path != "" {
		preset, err := scorer.LoadWeightsFile(path)
		if err != nil {
			return nil, err
		}
		weights = preset
	}

	for criterion, flag := range map[string]string{
		scorer.CriterionDistance: "distance-weight",
		scorer.CriterionRating:   "rating-weight",
		scorer.CriterionFee:      "fee-weight",
		scorer.CriterionClubs:    "clubs-weight",
	} {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetFloat64(flag)
			weights[criterion] = v
		}
	}

	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return weights, nil
}

func init() {
	addConstraintFlags(scoreCmd)
	scoreCmd.Flags().Float64("distance-weight", 0, "weight for the distance criterion")
	scoreCmd.Flags().Float64("rating-weight", 0, "weight for the rating criterion")
	scoreCmd.Flags().Float64("fee-weight", 0, "weight for the fee criterion")
	scoreCmd.Flags().Float64("clubs-weight", 0, "weight for the clubs criterion")
	scoreCmd.Flags().String("weights-file", "", "YAML weight preset file")
	scoreCmd.Flags().Int("top", 0, "print only the top N candidates")
	scoreCmd.Flags().String("what-if", "", "weight overrides to rescore with, e.g. \"rating=80,distance=5\"")
	rootCmd.AddCommand(scoreCmd)
}

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"

	"github.com/catchment-tools/schoolsearch-cli/internal/estimate"
	"github.com/catchment-tools/schoolsearch-cli/internal/model"
	"github.com/catchment-tools/schoolsearch-cli/internal/scorer"
)

// openOutput returns the destination writer and a close function.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output file %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func writeSearchResults(results []model.SchoolDistance, format, output string) error {
	w, closeFn, err := openOutput(output)
	if err != nil {
		return err
	}
	defer closeFn()

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(results), "encode results")

	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"urn", "name", "distance_km", "rating", "type", "gender", "age_range", "fee_paying"}); err != nil {
			return eris.Wrap(err, "write csv header")
		}
		for _, r := range results {
			record := []string{
				r.URN,
				r.Name,
				fmt.Sprintf("%.2f", r.DistanceKM),
				r.Rating.String(),
				string(r.Type),
				string(r.Gender),
				fmt.Sprintf("%d-%d", r.AgeMin, r.AgeMax),
				strconv.FormatBool(r.FeePaying),
			}
			if err := cw.Write(record); err != nil {
				return eris.Wrap(err, "write csv row")
			}
		}
		cw.Flush()
		return eris.Wrap(cw.Error(), "flush csv")

	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "URN\tNAME\tDISTANCE\tRATING\tTYPE\tAGES")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%.2f km\t%s\t%s\t%d-%d\n",
				r.URN, r.Name, r.DistanceKM, r.Rating, r.Type, r.AgeMin, r.AgeMax)
		}
		return eris.Wrap(tw.Flush(), "flush table")
	}
}

func writeScoredResults(results []scorer.ScoredSchool, format, output string) error {
	w, closeFn, err := openOutput(output)
	if err != nil {
		return err
	}
	defer closeFn()

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(results), "encode scores")

	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"rank", "urn", "name", "overall", "distance_km", "pros", "cons"}); err != nil {
			return eris.Wrap(err, "write csv header")
		}
		for _, r := range results {
			record := []string{
				strconv.Itoa(r.Rank),
				r.School.URN,
				r.School.Name,
				fmt.Sprintf("%.4f", r.Overall),
				fmt.Sprintf("%.2f", r.DistanceKM),
				strings.Join(r.Pros, "; "),
				strings.Join(r.Cons, "; "),
			}
			if err := cw.Write(record); err != nil {
				return eris.Wrap(err, "write csv row")
			}
		}
		cw.Flush()
		return eris.Wrap(cw.Error(), "flush csv")

	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tNAME\tSCORE\tDISTANCE\tPROS\tCONS")
		for _, r := range results {
			fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.2f km\t%s\t%s\n",
				r.Rank, r.School.Name, r.Overall, r.DistanceKM,
				strings.Join(r.Pros, "; "), strings.Join(r.Cons, "; "))
		}
		return eris.Wrap(tw.Flush(), "flush table")
	}
}

func printEstimate(w io.Writer, school *model.School, distanceKM float64, est *estimate.AdmissionsEstimate) {
	fmt.Fprintf(w, "School:    %s (%s)\n", school.Name, school.URN)
	fmt.Fprintf(w, "Distance:  %.2f km\n", distanceKM)
	fmt.Fprintf(w, "Bucket:    %s\n", est.Bucket)
	fmt.Fprintf(w, "Trend:     %s\n", est.Trend)
	fmt.Fprintf(w, "Years:     %d\n", est.YearsOfData)
	if est.LatestCutoffKM != nil {
		fmt.Fprintf(w, "Latest cutoff:    %.2f km\n", *est.LatestCutoffKM)
	}
	if est.ProjectedCutoffKM != nil {
		fmt.Fprintf(w, "Projected cutoff: %.2f km\n", *est.ProjectedCutoffKM)
	}
}

package main

import (
	"encoding/csv"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catchment-tools/schoolsearch-cli/internal/boundary"
	"github.com/catchment-tools/schoolsearch-cli/internal/geo"
	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import schools, admissions records, or catchment boundaries",
}

var importSchoolsCmd = &cobra.Command{
	Use:   "schools",
	Short: "Import school records from CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		csvPath, _ := cmd.Flags().GetString("csv")

		schools, err := readSchoolsCSV(csvPath)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var imported int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Import.Concurrency)
		for _, chunk := range chunkSchools(schools, cfg.Import.BatchSize) {
			g.Go(func() error {
				n, err := st.BulkUpsertSchools(gctx, chunk)
				if err != nil {
					return eris.Wrap(err, "bulk upsert schools")
				}
				atomic.AddInt64(&imported, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("schools imported",
			zap.String("file", csvPath),
			zap.Int("parsed", len(schools)),
			zap.Int64("upserted", imported))
		return nil
	},
}

var importAdmissionsCmd = &cobra.Command{
	Use:   "admissions",
	Short: "Import admissions records from CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		csvPath, _ := cmd.Flags().GetString("csv")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		var (
			records []model.AdmissionsRecord
			source  string
			err     error
		)
		switch {
		case csvPath != "" && xlsxPath != "":
			return eris.New("pass exactly one of --csv or --xlsx")
		case csvPath != "":
			records, err = readAdmissionsCSV(csvPath)
			source = csvPath
		case xlsxPath != "":
			records, err = readAdmissionsXLSX(xlsxPath)
			source = xlsxPath
		default:
			return eris.New("pass exactly one of --csv or --xlsx")
		}
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var imported int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Import.Concurrency)
		for _, chunk := range chunkRecords(records, cfg.Import.BatchSize) {
			g.Go(func() error {
				n, err := st.InsertAdmissionsRecords(gctx, chunk)
				if err != nil {
					return eris.Wrap(err, "insert admissions records")
				}
				atomic.AddInt64(&imported, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("admissions records imported",
			zap.String("file", source),
			zap.Int("parsed", len(records)),
			zap.Int64("inserted", imported))
		return nil
	},
}

var importCatchmentsCmd = &cobra.Command{
	Use:   "catchments",
	Short: "Import catchment boundaries from a shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shpPath, _ := cmd.Flags().GetString("shp")
		urnField, _ := cmd.Flags().GetString("urn-field")

		catchments, err := boundary.ReadCatchments(shpPath, urnField)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var set, missing int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Import.Concurrency)
		for _, c := range catchments {
			g.Go(func() error {
				err := st.SetCatchmentBoundary(gctx, c.URN, c.Boundary)
				switch {
				case err == nil:
					atomic.AddInt64(&set, 1)
					return nil
				case isUnknownSchool(err):
					atomic.AddInt64(&missing, 1)
					zap.L().Warn("catchment references unknown school", zap.String("urn", c.URN))
					return nil
				default:
					return eris.Wrapf(err, "set catchment boundary %s", c.URN)
				}
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("catchment boundaries imported",
			zap.String("file", shpPath),
			zap.Int64("set", set),
			zap.Int64("unknown_schools", missing))
		return nil
	},
}

// Both adapters report a missing URN as "school not found: <urn>".
func isUnknownSchool(err error) bool {
	return err != nil && strings.Contains(err.Error(), "school not found")
}

func chunkSchools(schools []model.School, size int) [][]model.School {
	if size <= 0 {
		size = 500
	}
	var chunks [][]model.School
	for start := 0; start < len(schools); start += size {
		end := min(start+size, len(schools))
		chunks = append(chunks, schools[start:end])
	}
	return chunks
}

func chunkRecords(records []model.AdmissionsRecord, size int) [][]model.AdmissionsRecord {
	if size <= 0 {
		size = 500
	}
	var chunks [][]model.AdmissionsRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// readSchoolsCSV parses a school export. The header row names the
// columns; order does not matter. Rows with malformed coordinates or
// ratings are skipped with a warning rather than failing the file.
func readSchoolsCSV(path string) ([]model.School, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "read header of %s", path)
	}
	col := columnIndex(header)
	for _, required := range []string{"urn", "name", "latitude", "longitude"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("%s: missing required column %q", path, required)
		}
	}

	var (
		schools []model.School
		skipped int
		line    = 1
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read row %d of %s", line+1, path)
		}
		line++

		school, err := schoolFromRow(col, row)
		if err != nil {
			skipped++
			zap.L().Warn("skipping school row", zap.Int("line", line), zap.Error(err))
			continue
		}
		schools = append(schools, *school)
	}

	if skipped > 0 {
		zap.L().Warn("school rows skipped", zap.String("file", path), zap.Int("skipped", skipped))
	}
	return schools, nil
}

func schoolFromRow(col map[string]int, row []string) (*model.School, error) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	lat, err := strconv.ParseFloat(get("latitude"), 64)
	if err != nil {
		return nil, eris.Wrap(err, "parse latitude")
	}
	lng, err := strconv.ParseFloat(get("longitude"), 64)
	if err != nil {
		return nil, eris.Wrap(err, "parse longitude")
	}
	if err := geo.ValidateCoordinate(lat, lng); err != nil {
		return nil, err
	}

	rating, err := model.ParseRating(get("rating"))
	if err != nil {
		return nil, err
	}

	ageMin, err := parseOptionalInt(get("age_min"))
	if err != nil {
		return nil, eris.Wrap(err, "parse age_min")
	}
	ageMax, err := parseOptionalInt(get("age_max"))
	if err != nil {
		return nil, eris.Wrap(err, "parse age_max")
	}

	school := &model.School{
		URN:            get("urn"),
		Name:           get("name"),
		LocalAuthority: get("local_authority"),
		Address:        get("address"),
		Postcode:       get("postcode"),
		Latitude:       lat,
		Longitude:      lng,
		Gender:         parseGender(get("gender")),
		AgeMin:         ageMin,
		AgeMax:         ageMax,
		Rating:         rating,
		Type:           parseSchoolType(get("type")),
	}
	if school.URN == "" || school.Name == "" {
		return nil, eris.New("urn and name are required")
	}

	if v := get("faith"); v != "" {
		school.Faith = &v
	}
	if v := get("website"); v != "" {
		school.Website = &v
	}
	if v := get("fee_paying"); v != "" {
		school.FeePaying, err = strconv.ParseBool(v)
		if err != nil {
			return nil, eris.Wrap(err, "parse fee_paying")
		}
	}
	if v := get("fee_per_term"); v != "" {
		fee, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, eris.Wrap(err, "parse fee_per_term")
		}
		school.FeePerTerm = &fee
	}
	if v := get("catchment_radius_km"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, eris.Wrap(err, "parse catchment_radius_km")
		}
		school.CatchmentRadiusKM = &radius
	}
	if v := get("clubs"); v != "" {
		school.Clubs = model.CanonicalClubs(strings.Split(v, ";"))
	}

	return school, nil
}

func parseGender(s string) model.GenderPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boys", "male":
		return model.GenderBoys
	case "girls", "female":
		return model.GenderGirls
	default:
		return model.GenderCoed
	}
}

func parseSchoolType(s string) model.SchoolType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "academy":
		return model.TypeAcademy
	case "free", "free school":
		return model.TypeFree
	case "independent", "private":
		return model.TypeIndependent
	default:
		return model.TypeMaintained
	}
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func readAdmissionsCSV(path string) ([]model.AdmissionsRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "read header of %s", path)
	}
	col := columnIndex(header)

	var (
		records []model.AdmissionsRecord
		line    = 1
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read row %d of %s", line+1, path)
		}
		line++

		record, err := admissionsFromCells(col, row)
		if err != nil {
			return nil, eris.Wrapf(err, "row %d of %s", line, path)
		}
		records = append(records, *record)
	}
	return records, nil
}

// readAdmissionsXLSX reads the first sheet of a council admissions
// workbook. The header row uses the same column names as the CSV form.
func readAdmissionsXLSX(path string) ([]model.AdmissionsRecord, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("%s: workbook has no sheets", path)
	}
	sheet := wb.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, nil
	}

	header := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, cell.String())
	}
	col := columnIndex(header)

	var records []model.AdmissionsRecord
	for i, row := range sheet.Rows[1:] {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			cells = append(cells, cell.String())
		}
		if allBlank(cells) {
			continue
		}
		record, err := admissionsFromCells(col, cells)
		if err != nil {
			return nil, eris.Wrapf(err, "row %d of %s", i+2, path)
		}
		records = append(records, *record)
	}
	return records, nil
}

func admissionsFromCells(col map[string]int, cells []string) (*model.AdmissionsRecord, error) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	record := &model.AdmissionsRecord{
		SchoolURN:    get("school_urn"),
		AcademicYear: get("academic_year"),
	}
	if record.SchoolURN == "" || record.AcademicYear == "" {
		return nil, eris.New("school_urn and academic_year are required")
	}

	var err error
	if record.PlacesOffered, err = parseOptionalInt(get("places_offered")); err != nil {
		return nil, eris.Wrap(err, "parse places_offered")
	}
	if record.ApplicationsReceived, err = parseOptionalInt(get("applications_received")); err != nil {
		return nil, eris.Wrap(err, "parse applications_received")
	}
	if record.WaitingListOffers, err = parseOptionalInt(get("waiting_list_offers")); err != nil {
		return nil, eris.Wrap(err, "parse waiting_list_offers")
	}
	if record.AppealsHeard, err = parseOptionalInt(get("appeals_heard")); err != nil {
		return nil, eris.Wrap(err, "parse appeals_heard")
	}
	if record.AppealsUpheld, err = parseOptionalInt(get("appeals_upheld")); err != nil {
		return nil, eris.Wrap(err, "parse appeals_upheld")
	}

	if v := get("last_distance_offered"); v != "" {
		cutoff, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, eris.Wrap(err, "parse last_distance_offered")
		}
		record.LastDistanceOffered = &cutoff
	}
	return record, nil
}

// columnIndex maps normalized header names to positions.
func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		col[key] = i
	}
	return col
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func init() {
	importSchoolsCmd.Flags().String("csv", "", "school export CSV path (required)")
	_ = importSchoolsCmd.MarkFlagRequired("csv")

	importAdmissionsCmd.Flags().String("csv", "", "admissions CSV path")
	importAdmissionsCmd.Flags().String("xlsx", "", "admissions XLSX workbook path")

	importCatchmentsCmd.Flags().String("shp", "", "catchment shapefile path (required)")
	importCatchmentsCmd.Flags().String("urn-field", "URN", "attribute field holding the school URN")
	_ = importCatchmentsCmd.MarkFlagRequired("shp")

	importCmd.AddCommand(importSchoolsCmd, importAdmissionsCmd, importCatchmentsCmd)
	rootCmd.AddCommand(importCmd)
}

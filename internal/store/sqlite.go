package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	_ "modernc.org/sqlite"

	"github.com/catchment-tools/schoolsearch-cli/internal/geo"
	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It has no
// spatial extension: the search narrows candidates with a bounding-box
// index scan and finishes distance, catchment, and club checks in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS schools (
	id                  TEXT PRIMARY KEY,
	urn                 TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	local_authority     TEXT NOT NULL DEFAULT '',
	address             TEXT NOT NULL DEFAULT '',
	postcode            TEXT NOT NULL DEFAULT '',
	latitude            REAL NOT NULL,
	longitude           REAL NOT NULL,
	gender              TEXT NOT NULL DEFAULT 'coed',
	faith               TEXT,
	age_min             INTEGER NOT NULL,
	age_max             INTEGER NOT NULL,
	rating              INTEGER NOT NULL DEFAULT 0,
	school_type         TEXT NOT NULL,
	fee_paying          INTEGER NOT NULL DEFAULT 0,
	fee_per_term        REAL,
	clubs               TEXT NOT NULL DEFAULT '[]',
	website             TEXT,
	catchment_radius_km REAL,
	catchment_boundary  TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	CHECK (age_min <= age_max)
);

CREATE TABLE IF NOT EXISTS admissions_records (
	id                    TEXT PRIMARY KEY,
	school_urn            TEXT NOT NULL REFERENCES schools(urn),
	academic_year         TEXT NOT NULL,
	places_offered        INTEGER NOT NULL,
	applications_received INTEGER NOT NULL,
	last_distance_offered REAL,
	waiting_list_offers   INTEGER NOT NULL DEFAULT 0,
	appeals_heard         INTEGER NOT NULL DEFAULT 0,
	appeals_upheld        INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (school_urn, academic_year)
);

CREATE INDEX IF NOT EXISTS idx_schools_lat_lng ON schools(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_schools_rating ON schools(rating);
CREATE INDEX IF NOT EXISTS idx_schools_school_type ON schools(school_type);
CREATE INDEX IF NOT EXISTS idx_admissions_school_urn ON admissions_records(school_urn);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteSchoolColumns = `id, urn, name, local_authority, address, postcode,
	latitude, longitude, gender, faith, age_min, age_max, rating, school_type,
	fee_paying, fee_per_term, clubs, website, catchment_radius_km, catchment_boundary,
	created_at, updated_at`

// SearchSchools runs the two-phase search: a bounding-box SQL scan with
// every filter the database can evaluate, then exact spherical
// distance, catchment containment, and club matching in Go.
func (s *SQLiteStore) SearchSchools(ctx context.Context, cons Constraints) ([]model.SchoolDistance, error) {
	if err := cons.Validate(); err != nil {
		return nil, err
	}

	radius := cons.SearchRadiusKM()
	box := geo.BoundingBox(cons.OriginLat, cons.OriginLng, radius)

	query := `SELECT ` + sqliteSchoolColumns + ` FROM schools
	WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
	args := []any{box.MinLat, box.MaxLat, box.MinLng, box.MaxLng}

	if policies := cons.genderPolicies(); policies != nil {
		query += ` AND gender IN (` + sqlitePlaceholders(len(policies)) + `)`
		for _, p := range policies {
			args = append(args, string(p))
		}
	}
	if cons.MinRating != nil {
		query += ` AND rating >= ?`
		args = append(args, int(*cons.MinRating))
	}
	if len(cons.SchoolTypes) > 0 {
		query += ` AND school_type IN (` + sqlitePlaceholders(len(cons.SchoolTypes)) + `)`
		for _, t := range cons.SchoolTypes {
			args = append(args, string(t))
		}
	}
	if len(cons.Faiths) > 0 {
		query += ` AND lower(faith) IN (` + sqlitePlaceholders(len(cons.Faiths)) + `)`
		for _, f := range lowered(cons.Faiths) {
			args = append(args, f)
		}
	}
	if cons.MaxFeePerTerm != nil {
		query += ` AND (fee_paying = 0 OR (fee_per_term IS NOT NULL AND fee_per_term <= ?))`
		args = append(args, *cons.MaxFeePerTerm)
	}
	if cons.MinAge != nil {
		query += ` AND age_max >= ?`
		args = append(args, *cons.MinAge)
	}
	if cons.MaxAge != nil {
		query += ` AND age_min <= ?`
		args = append(args, *cons.MaxAge)
	}
	if cons.NameContains != "" {
		query += ` AND instr(lower(name), ?) > 0`
		args = append(args, strings.ToLower(cons.NameContains))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search schools")
	}
	defer rows.Close()

	wantClubs := model.CanonicalClubs(cons.Clubs)

	var matches []model.SchoolDistance
	for rows.Next() {
		sc, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		d := geo.DistanceKM(cons.OriginLat, cons.OriginLng, sc.Latitude, sc.Longitude)
		if d > radius {
			continue
		}
		if !catchmentContains(sc, cons.OriginLat, cons.OriginLng, d) {
			continue
		}
		if len(wantClubs) > 0 && !offersAllClubs(sc.Clubs, wantClubs) {
			continue
		}
		matches = append(matches, model.SchoolDistance{School: *sc, DistanceKM: d})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search schools iterate")
	}

	sortSchoolDistances(matches, cons.effectiveSort())
	return paginate(matches, cons.Offset, cons.EffectiveLimit()), nil
}

func (s *SQLiteStore) GetSchool(ctx context.Context, urn string) (*model.School, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSchoolColumns+` FROM schools WHERE urn = ?`,
		urn,
	)
	sc, err := scanSchool(row)
	if err == errNoSchool {
		return nil, nil
	}
	return sc, err
}

const sqliteUpsertSchool = `
INSERT INTO schools (
	id, urn, name, local_authority, address, postcode,
	latitude, longitude, gender, faith, age_min, age_max, rating, school_type,
	fee_paying, fee_per_term, clubs, website, catchment_radius_km, catchment_boundary,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (urn) DO UPDATE SET
	name                = excluded.name,
	local_authority     = excluded.local_authority,
	address             = excluded.address,
	postcode            = excluded.postcode,
	latitude            = excluded.latitude,
	longitude           = excluded.longitude,
	gender              = excluded.gender,
	faith               = excluded.faith,
	age_min             = excluded.age_min,
	age_max             = excluded.age_max,
	rating              = excluded.rating,
	school_type         = excluded.school_type,
	fee_paying          = excluded.fee_paying,
	fee_per_term        = excluded.fee_per_term,
	clubs               = excluded.clubs,
	website             = excluded.website,
	catchment_radius_km = excluded.catchment_radius_km,
	catchment_boundary  = excluded.catchment_boundary,
	updated_at          = excluded.updated_at`

func (s *SQLiteStore) UpsertSchool(ctx context.Context, school *model.School) error {
	args, err := sqliteSchoolArgs(school)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertSchool, args...)
	return eris.Wrapf(err, "sqlite: upsert school %s", school.URN)
}

// BulkUpsertSchools loads a batch inside one transaction with a single
// prepared statement, the closest SQLite gets to a bulk copy.
func (s *SQLiteStore) BulkUpsertSchools(ctx context.Context, schools []model.School) (int64, error) {
	if len(schools) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSchool)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bulk upsert")
	}
	defer stmt.Close()

	var n int64
	for i := range schools {
		args, err := sqliteSchoolArgs(&schools[i])
		if err != nil {
			return n, err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, eris.Wrapf(err, "sqlite: bulk upsert school %s", schools[i].URN)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk upsert")
	}
	return n, nil
}

func (s *SQLiteStore) InsertAdmissionsRecords(ctx context.Context, records []model.AdmissionsRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin admissions insert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO admissions_records (
			id, school_urn, academic_year, places_offered, applications_received,
			last_distance_offered, waiting_list_offers, appeals_heard, appeals_upheld, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (school_urn, academic_year) DO UPDATE SET
			places_offered        = excluded.places_offered,
			applications_received = excluded.applications_received,
			last_distance_offered = excluded.last_distance_offered,
			waiting_list_offers   = excluded.waiting_list_offers,
			appeals_heard         = excluded.appeals_heard,
			appeals_upheld        = excluded.appeals_upheld`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare admissions insert")
	}
	defer stmt.Close()

	var n int64
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		var lastDistance any
		if r.LastDistanceOffered != nil {
			lastDistance = *r.LastDistanceOffered
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, r.SchoolURN, r.AcademicYear, r.PlacesOffered, r.ApplicationsReceived,
			lastDistance, r.WaitingListOffers, r.AppealsHeard, r.AppealsUpheld, r.CreatedAt,
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: insert admissions %s %s", r.SchoolURN, r.AcademicYear)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit admissions insert")
	}
	return n, nil
}

func (s *SQLiteStore) AdmissionsHistory(ctx context.Context, schoolURN string) ([]model.AdmissionsRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, school_urn, academic_year, places_offered, applications_received,
			last_distance_offered, waiting_list_offers, appeals_heard, appeals_upheld, created_at
		FROM admissions_records WHERE school_urn = ? ORDER BY academic_year ASC`,
		schoolURN,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: admissions history %s", schoolURN)
	}
	defer rows.Close()

	var records []model.AdmissionsRecord
	for rows.Next() {
		var r model.AdmissionsRecord
		var lastDistance sql.NullFloat64
		err := rows.Scan(&r.ID, &r.SchoolURN, &r.AcademicYear, &r.PlacesOffered, &r.ApplicationsReceived,
			&lastDistance, &r.WaitingListOffers, &r.AppealsHeard, &r.AppealsUpheld, &r.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan admissions record")
		}
		if lastDistance.Valid {
			v := lastDistance.Float64
			r.LastDistanceOffered = &v
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: admissions history iterate")
}

func (s *SQLiteStore) SetCatchmentBoundary(ctx context.Context, urn string, boundary *geom.Polygon) error {
	val, err := encodeBoundaryGeoJSON(boundary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schools SET catchment_boundary = ?, updated_at = ? WHERE urn = ?`,
		val, time.Now().UTC(), urn,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set catchment boundary %s", urn)
	}
	return checkRowsAffected(res, "school", urn)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := Stats{Driver: "sqlite"}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN catchment_boundary IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN fee_paying THEN 1 ELSE 0 END), 0)
		FROM schools`)
	if err := row.Scan(&st.Schools, &st.SchoolsWithBoundary, &st.SchoolsFeePaying); err != nil {
		return nil, eris.Wrap(err, "sqlite: school stats")
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(academic_year), ''), COALESCE(MAX(academic_year), '')
		FROM admissions_records`)
	if err := row.Scan(&st.AdmissionsRecords, &st.EarliestAcademicYear, &st.LatestAcademicYear); err != nil {
		return nil, eris.Wrap(err, "sqlite: admissions stats")
	}

	return &st, nil
}

// helpers

// errNoSchool signals a missing row internally; GetSchool translates it
// to (nil, nil) so callers can distinguish "not found" from failure.
var errNoSchool = eris.New("school not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func sqlitePlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSchool(row scannable) (*model.School, error) {
	var s model.School
	var faith, website, boundaryJSON sql.NullString
	var feePerTerm, catchmentRadius sql.NullFloat64
	var clubsJSON string

	err := row.Scan(
		&s.ID, &s.URN, &s.Name, &s.LocalAuthority, &s.Address, &s.Postcode,
		&s.Latitude, &s.Longitude, &s.Gender, &faith, &s.AgeMin, &s.AgeMax, &s.Rating, &s.Type,
		&s.FeePaying, &feePerTerm, &clubsJSON, &website, &catchmentRadius, &boundaryJSON,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errNoSchool
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan school")
	}

	if faith.Valid {
		v := faith.String
		s.Faith = &v
	}
	if website.Valid {
		v := website.String
		s.Website = &v
	}
	if feePerTerm.Valid {
		v := feePerTerm.Float64
		s.FeePerTerm = &v
	}
	if catchmentRadius.Valid {
		v := catchmentRadius.Float64
		s.CatchmentRadiusKM = &v
	}
	if err := json.Unmarshal([]byte(clubsJSON), &s.Clubs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal clubs")
	}
	if boundaryJSON.Valid {
		boundary, err := decodeBoundaryGeoJSON([]byte(boundaryJSON.String))
		if err != nil {
			return nil, err
		}
		s.CatchmentBoundary = boundary
	}
	return &s, nil
}

func sqliteSchoolArgs(school *model.School) ([]any, error) {
	if school.ID == "" {
		school.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if school.CreatedAt.IsZero() {
		school.CreatedAt = now
	}
	school.UpdatedAt = now
	school.Clubs = model.CanonicalClubs(school.Clubs)

	clubs := school.Clubs
	if clubs == nil {
		clubs = []string{}
	}
	clubsJSON, err := json.Marshal(clubs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal clubs")
	}

	boundaryVal, err := encodeBoundaryGeoJSON(school.CatchmentBoundary)
	if err != nil {
		return nil, err
	}

	var faith, website, feePerTerm, catchmentRadius any
	if school.Faith != nil {
		faith = *school.Faith
	}
	if school.Website != nil {
		website = *school.Website
	}
	if school.FeePerTerm != nil {
		feePerTerm = *school.FeePerTerm
	}
	if school.CatchmentRadiusKM != nil {
		catchmentRadius = *school.CatchmentRadiusKM
	}

	return []any{
		school.ID, school.URN, school.Name, school.LocalAuthority, school.Address, school.Postcode,
		school.Latitude, school.Longitude, string(school.Gender), faith, school.AgeMin, school.AgeMax,
		int(school.Rating), string(school.Type), school.FeePaying, feePerTerm, string(clubsJSON),
		website, catchmentRadius, boundaryVal, school.CreatedAt, school.UpdatedAt,
	}, nil
}

// encodeBoundaryGeoJSON serializes a catchment polygon for the TEXT
// column; nil stays NULL.
func encodeBoundaryGeoJSON(boundary *geom.Polygon) (any, error) {
	if boundary == nil {
		return nil, nil
	}
	data, err := geojson.Marshal(boundary)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal catchment boundary")
	}
	return string(data), nil
}

func decodeBoundaryGeoJSON(data []byte) (*geom.Polygon, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal catchment boundary")
	}
	poly, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("sqlite: catchment boundary is %T, want polygon", g)
	}
	return poly, nil
}

func offersAllClubs(offered, wanted []string) bool {
	have := make(map[string]struct{}, len(offered))
	for _, c := range offered {
		have[c] = struct{}{}
	}
	for _, c := range wanted {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

// sortSchoolDistances orders results deterministically: by distance
// with name then URN as tie-breakers, or by name then URN.
func sortSchoolDistances(matches []model.SchoolDistance, order SortOrder) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if order == SortName {
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.URN < b.URN
		}
		if a.DistanceKM != b.DistanceKM {
			return a.DistanceKM < b.DistanceKM
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.URN < b.URN
	})
}

func paginate(matches []model.SchoolDistance, offset, limit int) []model.SchoolDistance {
	if offset >= len(matches) {
		return nil
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	return matches[offset:end]
}

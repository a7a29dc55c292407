package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/catchment-tools/schoolsearch-cli/internal/db"
	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// PostgresStore implements Store using pgxpool against a PostGIS-enabled
// database. Distance, radius capping, and catchment containment all run
// as native spatial operators in a single query.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests to inject
// a pgxmock pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS schools (
	id                  TEXT PRIMARY KEY,
	urn                 TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	local_authority     TEXT NOT NULL DEFAULT '',
	address             TEXT NOT NULL DEFAULT '',
	postcode            TEXT NOT NULL DEFAULT '',
	latitude            DOUBLE PRECISION NOT NULL,
	longitude           DOUBLE PRECISION NOT NULL,
	geom                geometry(Point, 4326) NOT NULL,
	gender              TEXT NOT NULL DEFAULT 'coed',
	faith               TEXT,
	age_min             SMALLINT NOT NULL,
	age_max             SMALLINT NOT NULL,
	rating              SMALLINT NOT NULL DEFAULT 0,
	school_type         TEXT NOT NULL,
	fee_paying          BOOLEAN NOT NULL DEFAULT false,
	fee_per_term        DOUBLE PRECISION,
	clubs               JSONB NOT NULL DEFAULT '[]'::jsonb,
	website             TEXT,
	catchment_radius_km DOUBLE PRECISION,
	catchment_boundary  geometry(Polygon, 4326),
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (age_min <= age_max)
);

CREATE TABLE IF NOT EXISTS admissions_records (
	id                    TEXT PRIMARY KEY,
	school_urn            TEXT NOT NULL REFERENCES schools(urn),
	academic_year         TEXT NOT NULL,
	places_offered        INTEGER NOT NULL,
	applications_received INTEGER NOT NULL,
	last_distance_offered DOUBLE PRECISION,
	waiting_list_offers   INTEGER NOT NULL DEFAULT 0,
	appeals_heard         INTEGER NOT NULL DEFAULT 0,
	appeals_upheld        INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (school_urn, academic_year)
);

CREATE INDEX IF NOT EXISTS idx_schools_geom ON schools USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_schools_boundary ON schools USING GIST (catchment_boundary);
CREATE INDEX IF NOT EXISTS idx_schools_rating ON schools(rating);
CREATE INDEX IF NOT EXISTS idx_schools_school_type ON schools(school_type);
CREATE INDEX IF NOT EXISTS idx_admissions_school_urn ON admissions_records(school_urn);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresSchoolColumns = `id, urn, name, local_authority, address, postcode,
	latitude, longitude, gender, faith, age_min, age_max, rating, school_type,
	fee_paying, fee_per_term, clubs, website, catchment_radius_km,
	ST_AsEWKB(catchment_boundary), created_at, updated_at`

// SearchSchools runs the whole search server-side: ST_Distance for the
// exact distance, ST_DWithin for the radius cap, ST_Covers /
// ST_DWithin for the catchment test (polygon governs when present,
// both boundary inclusive), plus the non-spatial predicates, ordering,
// and pagination.
func (s *PostgresStore) SearchSchools(ctx context.Context, cons Constraints) ([]model.SchoolDistance, error) {
	if err := cons.Validate(); err != nil {
		return nil, err
	}

	// $1=lng, $2=lat, $3=search radius in metres.
	query := `SELECT ` + postgresSchoolColumns + `,
	ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) / 1000.0 AS distance_km
FROM schools
WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
	AND (
		(catchment_boundary IS NOT NULL AND ST_Covers(catchment_boundary, ST_SetSRID(ST_MakePoint($1, $2), 4326)))
		OR (catchment_boundary IS NULL AND (catchment_radius_km IS NULL
			OR ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, catchment_radius_km * 1000.0)))
	)`
	args := []any{cons.OriginLng, cons.OriginLat, cons.SearchRadiusKM() * 1000.0}
	argIdx := 4

	if policies := cons.genderPolicies(); policies != nil {
		query += fmt.Sprintf(` AND gender = ANY($%d)`, argIdx)
		args = append(args, schoolGenderStrings(policies))
		argIdx++
	}
	if cons.MinRating != nil {
		query += fmt.Sprintf(` AND rating >= $%d`, argIdx)
		args = append(args, int(*cons.MinRating))
		argIdx++
	}
	if len(cons.SchoolTypes) > 0 {
		query += fmt.Sprintf(` AND school_type = ANY($%d)`, argIdx)
		args = append(args, schoolTypeStrings(cons.SchoolTypes))
		argIdx++
	}
	if len(cons.Faiths) > 0 {
		query += fmt.Sprintf(` AND lower(faith) = ANY($%d)`, argIdx)
		args = append(args, lowered(cons.Faiths))
		argIdx++
	}
	if cons.MaxFeePerTerm != nil {
		query += fmt.Sprintf(` AND (fee_paying = false OR (fee_per_term IS NOT NULL AND fee_per_term <= $%d))`, argIdx)
		args = append(args, *cons.MaxFeePerTerm)
		argIdx++
	}
	if cons.MinAge != nil {
		query += fmt.Sprintf(` AND age_max >= $%d`, argIdx)
		args = append(args, *cons.MinAge)
		argIdx++
	}
	if cons.MaxAge != nil {
		query += fmt.Sprintf(` AND age_min <= $%d`, argIdx)
		args = append(args, *cons.MaxAge)
		argIdx++
	}
	if cons.NameContains != "" {
		// position() is a literal substring match; ILIKE would treat
		// %, _, and \ in the needle as wildcards.
		query += fmt.Sprintf(` AND position($%d in lower(name)) > 0`, argIdx)
		args = append(args, strings.ToLower(cons.NameContains))
		argIdx++
	}
	if wantClubs := model.CanonicalClubs(cons.Clubs); len(wantClubs) > 0 {
		query += fmt.Sprintf(` AND clubs ?& $%d`, argIdx)
		args = append(args, wantClubs)
		argIdx++
	}

	if cons.effectiveSort() == SortName {
		query += ` ORDER BY name ASC, urn ASC`
	} else {
		query += ` ORDER BY distance_km ASC, name ASC, urn ASC`
	}
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, cons.EffectiveLimit(), cons.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search schools")
	}
	defer rows.Close()

	var matches []model.SchoolDistance
	for rows.Next() {
		var sd model.SchoolDistance
		sc, err := scanPostgresSchool(rows, &sd.DistanceKM)
		if err != nil {
			return nil, err
		}
		sd.School = *sc
		matches = append(matches, sd)
	}
	return matches, eris.Wrap(rows.Err(), "postgres: search schools iterate")
}

func (s *PostgresStore) GetSchool(ctx context.Context, urn string) (*model.School, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresSchoolColumns+` FROM schools WHERE urn = $1`,
		urn,
	)
	sc, err := scanPostgresSchoolRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get school %s", urn)
	}
	return sc, nil
}

const postgresUpsertSchool = `
INSERT INTO schools (
	id, urn, name, local_authority, address, postcode,
	latitude, longitude, geom, gender, faith, age_min, age_max, rating, school_type,
	fee_paying, fee_per_term, clubs, website, catchment_radius_km, catchment_boundary,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	ST_SetSRID(ST_MakePoint($8, $7), 4326),
	$9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
	ST_GeomFromEWKB($20), $21, $22
)
ON CONFLICT (urn) DO UPDATE SET
	name                = EXCLUDED.name,
	local_authority     = EXCLUDED.local_authority,
	address             = EXCLUDED.address,
	postcode            = EXCLUDED.postcode,
	latitude            = EXCLUDED.latitude,
	longitude           = EXCLUDED.longitude,
	geom                = EXCLUDED.geom,
	gender              = EXCLUDED.gender,
	faith               = EXCLUDED.faith,
	age_min             = EXCLUDED.age_min,
	age_max             = EXCLUDED.age_max,
	rating              = EXCLUDED.rating,
	school_type         = EXCLUDED.school_type,
	fee_paying          = EXCLUDED.fee_paying,
	fee_per_term        = EXCLUDED.fee_per_term,
	clubs               = EXCLUDED.clubs,
	website             = EXCLUDED.website,
	catchment_radius_km = EXCLUDED.catchment_radius_km,
	catchment_boundary  = EXCLUDED.catchment_boundary,
	updated_at          = EXCLUDED.updated_at`

func (s *PostgresStore) UpsertSchool(ctx context.Context, school *model.School) error {
	args, err := postgresSchoolArgs(school)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, postgresUpsertSchool, args...)
	return eris.Wrapf(err, "postgres: upsert school %s", school.URN)
}

// BulkUpsertSchools loads a batch through a temp table COPY followed by
// INSERT ... ON CONFLICT. Geometry columns travel as EWKB bytes.
func (s *PostgresStore) BulkUpsertSchools(ctx context.Context, schools []model.School) (int64, error) {
	if len(schools) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(schools))
	for i := range schools {
		sc := &schools[i]
		if sc.ID == "" {
			sc.ID = uuid.New().String()
		}
		now := time.Now().UTC()
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = now
		}
		sc.UpdatedAt = now
		sc.Clubs = model.CanonicalClubs(sc.Clubs)

		pointEWKB, err := encodePointEWKB(sc.Latitude, sc.Longitude)
		if err != nil {
			return 0, err
		}
		boundaryEWKB, err := encodeBoundaryEWKB(sc.CatchmentBoundary)
		if err != nil {
			return 0, err
		}
		clubsJSON, err := marshalClubs(sc.Clubs)
		if err != nil {
			return 0, err
		}

		rows[i] = []any{
			sc.ID, sc.URN, sc.Name, sc.LocalAuthority, sc.Address, sc.Postcode,
			sc.Latitude, sc.Longitude, pointEWKB, string(sc.Gender), sc.Faith,
			sc.AgeMin, sc.AgeMax, int(sc.Rating), string(sc.Type),
			sc.FeePaying, sc.FeePerTerm, clubsJSON, sc.Website,
			sc.CatchmentRadiusKM, boundaryEWKB, sc.CreatedAt, sc.UpdatedAt,
		}
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "schools",
		Columns: []string{
			"id", "urn", "name", "local_authority", "address", "postcode",
			"latitude", "longitude", "geom", "gender", "faith",
			"age_min", "age_max", "rating", "school_type",
			"fee_paying", "fee_per_term", "clubs", "website",
			"catchment_radius_km", "catchment_boundary", "created_at", "updated_at",
		},
		ConflictKeys: []string{"urn"},
	}, rows)
}

func (s *PostgresStore) InsertAdmissionsRecords(ctx context.Context, records []model.AdmissionsRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		rows[i] = []any{
			r.ID, r.SchoolURN, r.AcademicYear, r.PlacesOffered, r.ApplicationsReceived,
			r.LastDistanceOffered, r.WaitingListOffers, r.AppealsHeard, r.AppealsUpheld, r.CreatedAt,
		}
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "admissions_records",
		Columns: []string{
			"id", "school_urn", "academic_year", "places_offered", "applications_received",
			"last_distance_offered", "waiting_list_offers", "appeals_heard", "appeals_upheld", "created_at",
		},
		ConflictKeys: []string{"school_urn", "academic_year"},
		UpdateCols: []string{
			"places_offered", "applications_received", "last_distance_offered",
			"waiting_list_offers", "appeals_heard", "appeals_upheld",
		},
	}, rows)
}

func (s *PostgresStore) AdmissionsHistory(ctx context.Context, schoolURN string) ([]model.AdmissionsRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, school_urn, academic_year, places_offered, applications_received,
			last_distance_offered, waiting_list_offers, appeals_heard, appeals_upheld, created_at
		FROM admissions_records WHERE school_urn = $1 ORDER BY academic_year ASC`,
		schoolURN,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: admissions history %s", schoolURN)
	}
	defer rows.Close()

	var records []model.AdmissionsRecord
	for rows.Next() {
		var r model.AdmissionsRecord
		err := rows.Scan(&r.ID, &r.SchoolURN, &r.AcademicYear, &r.PlacesOffered, &r.ApplicationsReceived,
			&r.LastDistanceOffered, &r.WaitingListOffers, &r.AppealsHeard, &r.AppealsUpheld, &r.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan admissions record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: admissions history iterate")
}

func (s *PostgresStore) SetCatchmentBoundary(ctx context.Context, urn string, boundary *geom.Polygon) error {
	boundaryEWKB, err := encodeBoundaryEWKB(boundary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE schools SET catchment_boundary = ST_GeomFromEWKB($1), updated_at = $2 WHERE urn = $3`,
		boundaryEWKB, time.Now().UTC(), urn,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set catchment boundary %s", urn)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("school not found: %s", urn)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := Stats{Driver: "postgres"}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE catchment_boundary IS NOT NULL),
			COUNT(*) FILTER (WHERE fee_paying)
		FROM schools`).Scan(&st.Schools, &st.SchoolsWithBoundary, &st.SchoolsFeePaying)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: school stats")
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MIN(academic_year), ''), COALESCE(MAX(academic_year), '')
		FROM admissions_records`).Scan(&st.AdmissionsRecords, &st.EarliestAcademicYear, &st.LatestAcademicYear)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: admissions stats")
	}

	return &st, nil
}

// helpers

func schoolGenderStrings(policies []model.GenderPolicy) []string {
	out := make([]string, len(policies))
	for i, p := range policies {
		out[i] = string(p)
	}
	return out
}

func marshalClubs(clubs []string) ([]byte, error) {
	if clubs == nil {
		clubs = []string{}
	}
	data, err := json.Marshal(clubs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal clubs")
	}
	return data, nil
}

// encodePointEWKB encodes a school location as an SRID 4326 EWKB point.
// PostGIS accepts EWKB bytes directly on the binary COPY path.
func encodePointEWKB(lat, lng float64) ([]byte, error) {
	point := geom.NewPointFlat(geom.XY, []float64{lng, lat})
	point.SetSRID(4326)
	data, err := ewkb.Marshal(point, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal point")
	}
	return data, nil
}

func encodeBoundaryEWKB(boundary *geom.Polygon) ([]byte, error) {
	if boundary == nil {
		return nil, nil
	}
	boundary.SetSRID(4326)
	data, err := ewkb.Marshal(boundary, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal catchment boundary")
	}
	return data, nil
}

func decodeBoundaryEWKB(data []byte) (*geom.Polygon, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal catchment boundary")
	}
	poly, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("postgres: catchment boundary is %T, want polygon", g)
	}
	return poly, nil
}

// scanPostgresSchool scans one school row; distanceKM receives the
// trailing distance_km column when non-nil.
func scanPostgresSchool(rows pgx.Rows, distanceKM *float64) (*model.School, error) {
	var sc model.School
	var boundaryEWKB []byte
	var clubsJSON []byte

	dest := []any{
		&sc.ID, &sc.URN, &sc.Name, &sc.LocalAuthority, &sc.Address, &sc.Postcode,
		&sc.Latitude, &sc.Longitude, &sc.Gender, &sc.Faith, &sc.AgeMin, &sc.AgeMax, &sc.Rating, &sc.Type,
		&sc.FeePaying, &sc.FeePerTerm, &clubsJSON, &sc.Website, &sc.CatchmentRadiusKM,
		&boundaryEWKB, &sc.CreatedAt, &sc.UpdatedAt,
	}
	if distanceKM != nil {
		dest = append(dest, distanceKM)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, eris.Wrap(err, "postgres: scan school")
	}
	if err := finishSchoolScan(&sc, clubsJSON, boundaryEWKB); err != nil {
		return nil, err
	}
	return &sc, nil
}

func scanPostgresSchoolRow(row pgx.Row) (*model.School, error) {
	var sc model.School
	var boundaryEWKB []byte
	var clubsJSON []byte

	err := row.Scan(
		&sc.ID, &sc.URN, &sc.Name, &sc.LocalAuthority, &sc.Address, &sc.Postcode,
		&sc.Latitude, &sc.Longitude, &sc.Gender, &sc.Faith, &sc.AgeMin, &sc.AgeMax, &sc.Rating, &sc.Type,
		&sc.FeePaying, &sc.FeePerTerm, &clubsJSON, &sc.Website, &sc.CatchmentRadiusKM,
		&boundaryEWKB, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := finishSchoolScan(&sc, clubsJSON, boundaryEWKB); err != nil {
		return nil, err
	}
	return &sc, nil
}

func finishSchoolScan(sc *model.School, clubsJSON, boundaryEWKB []byte) error {
	if len(clubsJSON) > 0 {
		if err := json.Unmarshal(clubsJSON, &sc.Clubs); err != nil {
			return eris.Wrap(err, "postgres: unmarshal clubs")
		}
	}
	boundary, err := decodeBoundaryEWKB(boundaryEWKB)
	if err != nil {
		return err
	}
	sc.CatchmentBoundary = boundary
	return nil
}

func postgresSchoolArgs(school *model.School) ([]any, error) {
	if school.ID == "" {
		school.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if school.CreatedAt.IsZero() {
		school.CreatedAt = now
	}
	school.UpdatedAt = now
	school.Clubs = model.CanonicalClubs(school.Clubs)

	clubsJSON, err := marshalClubs(school.Clubs)
	if err != nil {
		return nil, err
	}
	boundaryEWKB, err := encodeBoundaryEWKB(school.CatchmentBoundary)
	if err != nil {
		return nil, err
	}

	return []any{
		school.ID, school.URN, school.Name, school.LocalAuthority, school.Address, school.Postcode,
		school.Latitude, school.Longitude, string(school.Gender), school.Faith,
		school.AgeMin, school.AgeMax, int(school.Rating), string(school.Type),
		school.FeePaying, school.FeePerTerm, clubsJSON, school.Website,
		school.CatchmentRadiusKM, boundaryEWKB, school.CreatedAt, school.UpdatedAt,
	}, nil
}

//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// newIntegrationPostgres connects to the database named by
// SCHOOLSEARCH_TEST_DATABASE_URL and resets its tables. The test is
// skipped when the variable is unset.
func newIntegrationPostgres(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("SCHOOLSEARCH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SCHOOLSEARCH_TEST_DATABASE_URL not set, skipping")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	_, err = s.pool.Exec(ctx, "TRUNCATE schools, admissions_records")
	require.NoError(t, err)
	return s
}

// equivalenceFixture seeds the same data set into both backends: a
// spread of schools at varying distances, genders, ratings, fees, and
// clubs, one with a polygon catchment, plus admissions history.
func equivalenceFixture(t *testing.T, stores ...Store) {
	t.Helper()
	ctx := context.Background()

	faith := "Church of England"
	fee := 4500.0

	near := testSchool("100001", "Near Primary", 0.8)
	near.Clubs = []string{"chess", "coding"}

	girls := testSchool("100002", "Girls Grammar", 2.5)
	girls.Gender = model.GenderGirls
	girls.AgeMin = 11
	girls.AgeMax = 18
	girls.Rating = model.RatingOutstanding

	faithSchool := testSchool("100003", "St Jude's", 4.0)
	faithSchool.Faith = &faith
	faithSchool.Rating = model.RatingRequiresImprovement

	prep := testSchool("100004", "Hillside Prep", 6.0)
	prep.FeePaying = true
	prep.FeePerTerm = &fee

	catchment := testSchool("100005", "Catchment Primary", 9.0)
	catchment.CatchmentBoundary = squareAround(catchment.Latitude, catchment.Longitude, 0.02)

	schools := []model.School{near, girls, faithSchool, prep, catchment}
	records := []model.AdmissionsRecord{
		{SchoolURN: "100001", AcademicYear: "2023-24", PlacesOffered: 60, ApplicationsReceived: 85, LastDistanceOffered: floatPtr(1.4)},
		{SchoolURN: "100001", AcademicYear: "2024-25", PlacesOffered: 60, ApplicationsReceived: 92, LastDistanceOffered: floatPtr(1.2)},
		{SchoolURN: "100002", AcademicYear: "2024-25", PlacesOffered: 120, ApplicationsReceived: 100},
	}

	for _, s := range stores {
		n, err := s.BulkUpsertSchools(ctx, schools)
		require.NoError(t, err)
		require.Equal(t, int64(len(schools)), n)

		_, err = s.InsertAdmissionsRecords(ctx, records)
		require.NoError(t, err)
	}
}

// TestBackendEquivalence runs the same constraint matrix against SQLite
// and Postgres and requires identical result sets in identical order.
// Distances may differ slightly between haversine and PostGIS geography
// math, so they are compared with a tolerance rather than exactly.
func TestBackendEquivalence(t *testing.T) {
	pg := newIntegrationPostgres(t)
	sq := newTestSQLite(t)
	equivalenceFixture(t, sq, pg)

	matrix := []struct {
		name string
		cons Constraints
	}{
		{"unfiltered", Constraints{OriginLat: originLat, OriginLng: originLng}},
		{"radius 5km", Constraints{OriginLat: originLat, OriginLng: originLng, MaxDistanceKM: floatPtr(5)}},
		{"girls", Constraints{OriginLat: originLat, OriginLng: originLng, Gender: GenderGirls}},
		{"boys", Constraints{OriginLat: originLat, OriginLng: originLng, Gender: GenderBoys}},
		{"min rating good", Constraints{OriginLat: originLat, OriginLng: originLng, MinRating: ratingPtr(model.RatingGood)}},
		{"age 14", Constraints{OriginLat: originLat, OriginLng: originLng, MinAge: intPtr(14), MaxAge: intPtr(14)}},
		{"max fee", Constraints{OriginLat: originLat, OriginLng: originLng, MaxFeePerTerm: floatPtr(5000)}},
		{"clubs", Constraints{OriginLat: originLat, OriginLng: originLng, Clubs: []string{"Chess", "coding"}}},
		{"faith", Constraints{OriginLat: originLat, OriginLng: originLng, Faiths: []string{"church of england"}}},
		{"name", Constraints{OriginLat: originLat, OriginLng: originLng, NameContains: "primary"}},
		{"paged", Constraints{OriginLat: originLat, OriginLng: originLng, Limit: 2, Offset: 1}},
		{"sort name", Constraints{OriginLat: originLat, OriginLng: originLng, Sort: SortName}},
	}

	for _, tt := range matrix {
		t.Run(tt.name, func(t *testing.T) {
			fromSQLite := search(t, sq, tt.cons)
			fromPostgres := search(t, pg, tt.cons)

			require.Equal(t, resultURNs(fromSQLite), resultURNs(fromPostgres))
			for i := range fromSQLite {
				assert.InDelta(t, fromSQLite[i].DistanceKM, fromPostgres[i].DistanceKM, 0.05,
					"distance for %s", fromSQLite[i].URN)
			}
		})
	}
}

// TestBackendEquivalenceCatchment pins catchment containment behavior:
// a polygon boundary admits origins inside it and excludes origins
// outside, identically on both backends.
func TestBackendEquivalenceCatchment(t *testing.T) {
	pg := newIntegrationPostgres(t)
	sq := newTestSQLite(t)
	equivalenceFixture(t, sq, pg)

	inside := Constraints{OriginLat: originLat + 9.0/111.0, OriginLng: originLng}
	outside := Constraints{OriginLat: originLat, OriginLng: originLng, MaxDistanceKM: floatPtr(100)}

	for name, s := range map[string]Store{"sqlite": sq, "postgres": pg} {
		assert.Contains(t, resultURNs(search(t, s, inside)), "100005", "%s: origin inside boundary", name)
		assert.NotContains(t, resultURNs(search(t, s, outside)), "100005", "%s: origin outside boundary", name)
	}
}

// TestBackendEquivalenceHistory compares admissions history and stats
// across backends.
func TestBackendEquivalenceHistory(t *testing.T) {
	pg := newIntegrationPostgres(t)
	sq := newTestSQLite(t)
	equivalenceFixture(t, sq, pg)

	ctx := context.Background()
	for name, s := range map[string]Store{"sqlite": sq, "postgres": pg} {
		history, err := s.AdmissionsHistory(ctx, "100001")
		require.NoError(t, err, name)
		require.Len(t, history, 2, name)
		assert.Equal(t, "2023-24", history[0].AcademicYear, name)
		require.NotNil(t, history[1].LastDistanceOffered, name)
		assert.Equal(t, 1.2, *history[1].LastDistanceOffered, name)

		stats, err := s.Stats(ctx)
		require.NoError(t, err, name)
		assert.Equal(t, int64(5), stats.Schools, name)
		assert.Equal(t, int64(3), stats.AdmissionsRecords, name)
		assert.Equal(t, "2023-24", stats.EarliestAcademicYear, name)
		assert.Equal(t, "2024-25", stats.LatestAcademicYear, name)
	}
}

// Package store implements the backend-neutral school repository: a
// constraint-driven search over school records with two interchangeable
// adapters, one for plain SQLite and one for Postgres with PostGIS.
// Both adapters answer the same Constraints with the same logical
// results; which one runs is decided once at startup by configuration.
package store

import (
	"context"

	"github.com/twpayne/go-geom"

	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

// DefaultSearchRadiusKM bounds the candidate scan when the caller sets
// no distance cap. Both adapters share it so an "unlimited" search
// selects the same rows on either backend.
const DefaultSearchRadiusKM = 1000.0

// Store is the persistence interface for the school query layer. The
// search path is read-only; the upsert methods exist for the import
// tooling that maintains the data set.
type Store interface {
	// Query path
	SearchSchools(ctx context.Context, cons Constraints) ([]model.SchoolDistance, error)
	AdmissionsHistory(ctx context.Context, schoolURN string) ([]model.AdmissionsRecord, error)
	GetSchool(ctx context.Context, urn string) (*model.School, error)

	// Ingestion path
	UpsertSchool(ctx context.Context, school *model.School) error
	BulkUpsertSchools(ctx context.Context, schools []model.School) (int64, error)
	InsertAdmissionsRecords(ctx context.Context, records []model.AdmissionsRecord) (int64, error)
	SetCatchmentBoundary(ctx context.Context, urn string, boundary *geom.Polygon) error

	// Lifecycle
	Stats(ctx context.Context) (*Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Stats summarizes the data set behind a store.
type Stats struct {
	Driver               string `json:"driver"`
	Schools              int64  `json:"schools"`
	SchoolsWithBoundary  int64  `json:"schools_with_boundary"`
	SchoolsFeePaying     int64  `json:"schools_fee_paying"`
	AdmissionsRecords    int64  `json:"admissions_records"`
	EarliestAcademicYear string `json:"earliest_academic_year,omitempty"`
	LatestAcademicYear   string `json:"latest_academic_year,omitempty"`
}

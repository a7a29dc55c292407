package model

import (
	"time"

	"github.com/twpayne/go-geom"
)

// GenderPolicy describes which pupils a school admits.
type GenderPolicy string

const (
	GenderCoed  GenderPolicy = "coed"
	GenderBoys  GenderPolicy = "boys"
	GenderGirls GenderPolicy = "girls"
)

// SchoolType is the establishment category.
type SchoolType string

const (
	TypeMaintained  SchoolType = "maintained"
	TypeAcademy     SchoolType = "academy"
	TypeFree        SchoolType = "free"
	TypeIndependent SchoolType = "independent"
)

// School is one establishment record. Rows are written by the import
// tooling and are read-only to the query layer.
type School struct {
	ID             string       `json:"id"`
	URN            string       `json:"urn"`
	Name           string       `json:"name"`
	LocalAuthority string       `json:"local_authority"`
	Address        string       `json:"address,omitempty"`
	Postcode       string       `json:"postcode,omitempty"`
	Latitude       float64      `json:"latitude"`
	Longitude      float64      `json:"longitude"`
	Gender         GenderPolicy `json:"gender"`
	Faith          *string      `json:"faith,omitempty"`
	AgeMin         int          `json:"age_min"`
	AgeMax         int          `json:"age_max"`
	Rating         Rating       `json:"rating"`
	Type           SchoolType   `json:"type"`
	FeePaying      bool         `json:"fee_paying"`
	FeePerTerm     *float64     `json:"fee_per_term,omitempty"` // GBP; nil when unknown or not fee-paying
	Clubs          []string     `json:"clubs,omitempty"`
	Website        *string      `json:"website,omitempty"`

	// Catchment descriptor: the polygon is authoritative when present;
	// the radius applies only when no polygon exists.
	CatchmentRadiusKM *float64      `json:"catchment_radius_km,omitempty"`
	CatchmentBoundary *geom.Polygon `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCatchment reports whether the school declares any catchment descriptor.
func (s *School) HasCatchment() bool {
	return s.CatchmentBoundary != nil || s.CatchmentRadiusKM != nil
}

// SchoolDistance pairs a school with its great-circle distance from the
// search origin. This is the repository output shape the scorer consumes.
type SchoolDistance struct {
	School     `json:"school"`
	DistanceKM float64 `json:"distance_km"`
}

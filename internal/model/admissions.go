package model

import "time"

// AdmissionsRecord is one school's admissions outcome for one academic
// year. At most one record exists per (school, academic year) pair and
// records are immutable once written.
//
// AcademicYear labels use the "2024-25" form, so lexicographic order is
// chronological order.
type AdmissionsRecord struct {
	ID                   string   `json:"id"`
	SchoolURN            string   `json:"school_urn"`
	AcademicYear         string   `json:"academic_year"`
	PlacesOffered        int      `json:"places_offered"`
	ApplicationsReceived int      `json:"applications_received"`
	LastDistanceOffered  *float64 `json:"last_distance_offered,omitempty"` // km; nil when no distance cutoff applied
	WaitingListOffers    int      `json:"waiting_list_offers"`
	AppealsHeard         int      `json:"appeals_heard"`
	AppealsUpheld        int      `json:"appeals_upheld"`

	CreatedAt time.Time `json:"created_at"`
}

// Oversubscribed reports whether demand exceeded places in this year.
func (r *AdmissionsRecord) Oversubscribed() bool {
	return r.ApplicationsReceived > r.PlacesOffered
}

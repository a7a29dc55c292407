package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestHasCatchment(t *testing.T) {
	t.Parallel()

	radius := 3.0
	poly := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8})

	tests := []struct {
		name   string
		school School
		want   bool
	}{
		{"none", School{}, false},
		{"radius only", School{CatchmentRadiusKM: &radius}, true},
		{"polygon only", School{CatchmentBoundary: poly}, true},
		{"both", School{CatchmentRadiusKM: &radius, CatchmentBoundary: poly}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.school.HasCatchment())
		})
	}
}

func TestOversubscribed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record AdmissionsRecord
		want   bool
	}{
		{"more applications than places", AdmissionsRecord{PlacesOffered: 60, ApplicationsReceived: 90}, true},
		{"exactly full", AdmissionsRecord{PlacesOffered: 60, ApplicationsReceived: 60}, false},
		{"undersubscribed", AdmissionsRecord{PlacesOffered: 60, ApplicationsReceived: 40}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.record.Oversubscribed())
		})
	}
}

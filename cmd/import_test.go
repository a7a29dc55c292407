//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/catchment-tools/schoolsearch-cli/internal/model"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadSchoolsCSV(t *testing.T) {
	// Column order does not matter; header names are normalized.
	path := writeTempFile(t, "schools.csv", `Name,URN,Latitude,Longitude,Gender,Age Min,Age Max,Rating,Type,Faith,Fee Paying,Fee Per Term,Clubs
St Mary's Primary,100001,51.52,-0.13,coed,4,11,Good,maintained,Church of England,false,,Chess; coding ;chess
Hillside Prep,100002,51.53,-0.14,girls,7,13,Outstanding,independent,,true,5200,
`)

	schools, err := readSchoolsCSV(path)
	require.NoError(t, err)
	require.Len(t, schools, 2)

	s := schools[0]
	assert.Equal(t, "100001", s.URN)
	assert.Equal(t, "St Mary's Primary", s.Name)
	assert.Equal(t, model.GenderCoed, s.Gender)
	assert.Equal(t, 4, s.AgeMin)
	assert.Equal(t, 11, s.AgeMax)
	assert.Equal(t, model.RatingGood, s.Rating)
	assert.Equal(t, model.TypeMaintained, s.Type)
	require.NotNil(t, s.Faith)
	assert.Equal(t, "Church of England", *s.Faith)
	assert.False(t, s.FeePaying)
	// Clubs are canonicalized: lowercased, trimmed, deduplicated.
	assert.Equal(t, []string{"chess", "coding"}, s.Clubs)

	p := schools[1]
	assert.Equal(t, model.GenderGirls, p.Gender)
	assert.Equal(t, model.TypeIndependent, p.Type)
	assert.True(t, p.FeePaying)
	require.NotNil(t, p.FeePerTerm)
	assert.Equal(t, 5200.0, *p.FeePerTerm)
	assert.Nil(t, p.Faith)
}

func TestReadSchoolsCSVSkipsBadRows(t *testing.T) {
	path := writeTempFile(t, "schools.csv", `urn,name,latitude,longitude,rating
100001,Good School,51.52,-0.13,good
100002,Bad Coordinates,95.0,-0.13,good
100003,Bad Rating,51.52,-0.13,stellar
,No URN,51.52,-0.13,good
`)

	schools, err := readSchoolsCSV(path)
	require.NoError(t, err)
	require.Len(t, schools, 1)
	assert.Equal(t, "100001", schools[0].URN)
}

func TestReadSchoolsCSVMissingColumn(t *testing.T) {
	path := writeTempFile(t, "schools.csv", "urn,name,latitude\n100001,School,51.5\n")

	_, err := readSchoolsCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required column "longitude"`)
}

func TestReadAdmissionsCSV(t *testing.T) {
	path := writeTempFile(t, "admissions.csv", `School URN,Academic Year,Places Offered,Applications Received,Last Distance Offered,Waiting List Offers,Appeals Heard,Appeals Upheld
100001,2023-24,60,85,1.4,3,5,1
100001,2024-25,60,92,,2,4,0
`)

	records, err := readAdmissionsCSV(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "100001", first.SchoolURN)
	assert.Equal(t, "2023-24", first.AcademicYear)
	assert.Equal(t, 60, first.PlacesOffered)
	assert.Equal(t, 85, first.ApplicationsReceived)
	require.NotNil(t, first.LastDistanceOffered)
	assert.Equal(t, 1.4, *first.LastDistanceOffered)
	assert.Equal(t, 3, first.WaitingListOffers)
	assert.Equal(t, 5, first.AppealsHeard)
	assert.Equal(t, 1, first.AppealsUpheld)

	// A blank cutoff stays nil: the year is real, the cutoff unknown.
	assert.Nil(t, records[1].LastDistanceOffered)
}

func TestReadAdmissionsCSVRejectsBadRow(t *testing.T) {
	path := writeTempFile(t, "admissions.csv", `school_urn,academic_year,places_offered
100001,,60
`)

	_, err := readAdmissionsCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "school_urn and academic_year are required")
}

func TestReadAdmissionsXLSX(t *testing.T) {
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("Admissions")
	require.NoError(t, err)

	addRow := func(values ...string) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	addRow("School URN", "Academic Year", "Places Offered", "Applications Received", "Last Distance Offered")
	addRow("100001", "2023-24", "60", "85", "1.4")
	addRow("", "", "", "", "")
	addRow("100001", "2024-25", "60", "92", "")

	path := filepath.Join(t.TempDir(), "admissions.xlsx")
	require.NoError(t, wb.Save(path))

	records, err := readAdmissionsXLSX(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2023-24", records[0].AcademicYear)
	require.NotNil(t, records[0].LastDistanceOffered)
	assert.Equal(t, 1.4, *records[0].LastDistanceOffered)
	assert.Nil(t, records[1].LastDistanceOffered)
}

func TestParseGender(t *testing.T) {
	assert.Equal(t, model.GenderBoys, parseGender("Boys"))
	assert.Equal(t, model.GenderBoys, parseGender("male"))
	assert.Equal(t, model.GenderGirls, parseGender("GIRLS"))
	assert.Equal(t, model.GenderCoed, parseGender("mixed"))
	assert.Equal(t, model.GenderCoed, parseGender(""))
}

func TestParseSchoolType(t *testing.T) {
	assert.Equal(t, model.TypeAcademy, parseSchoolType("Academy"))
	assert.Equal(t, model.TypeFree, parseSchoolType("free school"))
	assert.Equal(t, model.TypeIndependent, parseSchoolType("private"))
	assert.Equal(t, model.TypeMaintained, parseSchoolType("community"))
	assert.Equal(t, model.TypeMaintained, parseSchoolType(""))
}

func TestChunkSchools(t *testing.T) {
	schools := make([]model.School, 5)

	chunks := chunkSchools(schools, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[2], 1)

	// A nonsense size falls back to the default batch.
	assert.Len(t, chunkSchools(schools, 0), 1)
	assert.Empty(t, chunkSchools(nil, 2))
}

func TestIsUnknownSchool(t *testing.T) {
	assert.False(t, isUnknownSchool(nil))
	assert.False(t, isUnknownSchool(assert.AnError))
	assert.True(t, isUnknownSchool(eris.New("school not found: 100001")))
}

func TestColumnIndex(t *testing.T) {
	col := columnIndex([]string{"School URN", " Academic Year ", "places_offered"})
	assert.Equal(t, 0, col["school_urn"])
	assert.Equal(t, 1, col["academic_year"])
	assert.Equal(t, 2, col["places_offered"])
}

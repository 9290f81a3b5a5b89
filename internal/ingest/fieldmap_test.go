package ingest

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborcats/intake-cli/internal/fetcher"
	"github.com/harborcats/intake-cli/internal/model"
)

func TestClassifyPlaceKind(t *testing.T) {
	tests := []struct {
		name     string
		category string
		style    string
		want     model.PlaceKind
	}{
		{"Speedway Colony", "", "", model.PlaceColony},
		{"Grant Rd feeding station", "", "", model.PlaceColony},
		{"El Rio Cats", "", "", model.PlaceColony},
		// The folder label counts when the name alone is ambiguous.
		{"Oracle & Wetmore", "Feeding Stations", "", model.PlaceColony},
		// So does a named pin style.
		{"Oracle & Wetmore", "", "feeder-site", model.PlaceColony},
		// Generated icon-style ids carry no words and decide nothing.
		{"Oracle & Wetmore", "", "icon-1899-C2185B", model.PlaceUnknown},
		{"Desert Winds Mobile Home Park", "", "", model.PlaceBusiness},
		{"Maria Lopez", "", "", model.PlaceUnknown},
		{"", "", "", model.PlaceUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyPlaceKind(tt.name, tt.category, tt.style), tt.name)
	}

	assert.Equal(t, model.PlaceColony, classifyPlaceName("Speedway Colony"))
}

func TestPlacemarkID(t *testing.T) {
	a := fetcher.Placemark{Name: "Speedway colony", Lat: 32.2319, Lng: -110.9265}
	same := fetcher.Placemark{Name: "SPEEDWAY COLONY", Lat: 32.2319, Lng: -110.9265}
	moved := fetcher.Placemark{Name: "Speedway colony", Lat: 32.2320, Lng: -110.9265}

	assert.Equal(t, placemarkID(a), placemarkID(same))
	assert.NotEqual(t, placemarkID(a), placemarkID(moved))
}

func TestFieldmapExtract(t *testing.T) {
	path := writeTempFile(t, "map.kml", `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Folder>
      <name>Active Colonies</name>
      <Placemark>
        <name>Speedway colony</name>
        <description>6 cats, feeder on site</description>
        <styleUrl>#feeding-station</styleUrl>
        <Point><coordinates>-110.9265,32.2319,0</coordinates></Point>
      </Placemark>
    </Folder>
    <Placemark>
      <Point><coordinates>-110.9000,32.2000</coordinates></Point>
    </Placemark>
  </Document>
</kml>`)

	s := &FieldmapPlacemarks{}
	ex, err := s.Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ex.Rows, 1)
	assert.Equal(t, 1, ex.Dropped)

	row := ex.Rows[0]
	assert.NotEmpty(t, row.LogicalID)
	assert.True(t, row.Date.IsZero())
	assert.Equal(t, "Speedway colony", row.Payload["Name"])
	assert.Equal(t, "Active Colonies", row.Payload["Category"])
	assert.Equal(t, "feeding-station", row.Payload["Style"])
	assert.Equal(t, "6 cats, feeder on site", row.Payload["Description"])
	assert.Equal(t, "32.231900", row.Payload["Latitude"])
	assert.Equal(t, "-110.926500", row.Payload["Longitude"])
}

func TestFieldmapPostProcess_ColonyGetsAccount(t *testing.T) {
	mock := newMock(t)
	lat, lng := 32.2319, -110.9265

	mock.ExpectQuery("INSERT INTO canon.places").
		WithArgs("place:speedway colony|addr:unknown", "Speedway Colony", "",
			"colony", &lat, &lng, ewkbPoint(lng, lat)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery("INSERT INTO canon.org_accounts").
		WithArgs("org:speedway colony", "Speedway Colony", "colony").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	recs := []model.StagedRecord{
		{SourceRowID: "abc123", Payload: map[string]string{
			"Name":     "Speedway Colony",
			"Category": "Active Colonies",
			"Latitude": "32.231900", "Longitude": "-110.926500",
		}},
	}

	s := &FieldmapPlacemarks{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), recs, rep))

	assert.Equal(t, 1, rep.Entities["places"].Created)
	assert.Equal(t, 1, rep.Entities["places"].Linked)
	assert.Equal(t, 1, rep.Entities["accounts"].Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFieldmapPostProcess_PersonNamedPinStaysPlaceOnly(t *testing.T) {
	mock := newMock(t)
	lat, lng := 32.2, -110.9

	mock.ExpectQuery("INSERT INTO canon.places").
		WithArgs("place:maria lopez|addr:unknown", "Maria Lopez", "",
			"unknown", &lat, &lng, ewkbPoint(lng, lat)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	recs := []model.StagedRecord{
		{SourceRowID: "def456", Payload: map[string]string{
			"Name":     "Maria Lopez",
			"Latitude": "32.200000", "Longitude": "-110.900000",
		}},
	}

	s := &FieldmapPlacemarks{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), recs, rep))

	assert.Equal(t, 1, rep.Entities["places"].Created)
	assert.NotContains(t, rep.Entities, "accounts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

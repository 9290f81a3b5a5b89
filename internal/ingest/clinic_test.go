package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborcats/intake-cli/internal/model"
)

func TestClinicRowID(t *testing.T) {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "1001|2024-01-15", clinicRowID("1001", date))
	assert.Equal(t, "", clinicRowID("", date))
	assert.Equal(t, "", clinicRowID("1001", time.Time{}))
}

func TestClinicAppointmentsExtract_MergesServiceLines(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"Number", "Date", "Animal Name", "Vet Name", "Service"},
		{"1001", "01/15/2024", "Mittens", "Dr. Soto", "Neuter Package"},
		{"", "", "", "", "Rabies Vaccine"},
		{"", "", "", "", "FVRCP"},
		{"1002", "01/16/2024", "Patch", "", "Exam"},
	})

	s := &ClinicAppointments{}
	ex, err := s.Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ex.Rows, 2)
	assert.Equal(t, 2, ex.Dropped)

	first := ex.Rows[0]
	assert.Equal(t, "1001|2024-01-15", first.LogicalID)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, "Neuter Package; Rabies Vaccine; FVRCP", first.Payload["Service"])
	assert.Equal(t, "Mittens", first.Payload["Animal Name"])

	second := ex.Rows[1]
	assert.Equal(t, "1002|2024-01-16", second.LogicalID)
	assert.Equal(t, "Exam", second.Payload["Service"])
}

func TestClinicAppointmentsExtract_UnusableRowsDropped(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"Number", "Date", "Service"},
		// A continuation line before any keyed row has no owner.
		{"", "", "Orphan Line"},
		{"1003", "not a date", "Exam"},
		{"1004", "01/20/2024", "Exam"},
	})

	s := &ClinicAppointments{}
	ex, err := s.Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ex.Rows, 1)
	assert.Equal(t, "1004|2024-01-20", ex.Rows[0].LogicalID)
	assert.Equal(t, 2, ex.Dropped)
}

func TestParseAlteredStatus(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		in   string
		want *bool
	}{
		{"Neutered", &yes},
		{"Spayed", &yes},
		{"Already Altered", &yes},
		{"Yes", &yes},
		{"Intact", &no},
		{"Not yet neutered", &no},
		{"No", &no},
		{"", nil},
		{"Pending bloodwork", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseAlteredStatus(tt.in), tt.in)
	}
}

func TestClinicAppointments_PostProcess_DerivesProceduresAndConditions(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO canon.appointments").
		WithArgs("clinic", "1001|2024-01-15", "1001", date, "Mittens", "Dr. Soto", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted", "animal_id"}).
			AddRow(int64(5), true, nil))
	mock.ExpectExec("INSERT INTO canon.procedures").
		WithArgs(int64(5), (*int64)(nil), "neuter", date).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO canon.vitals_observations").
		WithArgs(int64(5), (*int64)(nil), "pregnant", date).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := model.StagedRecord{
		SourceRowID: "1001|2024-01-15",
		Payload: map[string]string{
			"Number": "1001", "Date": "01/15/2024",
			"Animal Name": "Mittens", "Vet Name": "Dr. Soto",
			"Neuter": "Yes", "Pregnant": "X",
		},
	}

	s := &ClinicAppointments{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), []model.StagedRecord{rec}, rep))

	assert.Equal(t, 1, rep.Entities["appointments"].Created)
	assert.Equal(t, 1, rep.Entities["procedures"].Created)
	assert.Equal(t, 1, rep.Entities["vitals"].Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicAppointments_PostProcess_NoSurgeryReasonRecorded(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO canon.appointments").
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted", "animal_id"}).
			AddRow(int64(5), false, nil))
	mock.ExpectExec("INSERT INTO canon.procedures").
		WithArgs(int64(5), (*int64)(nil), "Too young", date).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := model.StagedRecord{
		SourceRowID: "1001|2024-01-15",
		Payload: map[string]string{
			"Number": "1001", "Date": "01/15/2024",
			"No Surgery Reason": "Too young",
		},
	}

	s := &ClinicAppointments{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), []model.StagedRecord{rec}, rep))

	assert.Equal(t, 1, rep.Entities["appointments"].Updated)
	assert.Equal(t, 1, rep.Entities["procedures"].Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicAppointments_PostProcess_KnownChipAttaches(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	chipAnimal := int64(7)

	mock.ExpectQuery("INSERT INTO canon.appointments").
		WithArgs("clinic", "1001|2024-01-15", "1001", date, "Mittens", "", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted", "animal_id"}).
			AddRow(int64(5), false, nil))
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WithArgs("microchip", "977200000000001").
		WillReturnRows(pgxmock.NewRows([]string{"person_id", "animal_id"}).
			AddRow(nil, &chipAnimal))
	mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(nil))
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(int64(7), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := model.StagedRecord{
		SourceRowID: "1001|2024-01-15",
		Payload: map[string]string{
			"Number": "1001", "Date": "01/15/2024",
			"Animal Name": "Mittens", "Microchip Number": "977200000000001",
		},
	}

	s := &ClinicAppointments{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), []model.StagedRecord{rec}, rep))

	assert.Equal(t, 1, rep.Entities["appointments"].Updated)
	assert.Equal(t, 1, rep.Entities["appointments"].Linked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicCats_ChiplessCatReusesAppointmentAnimal(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	existing := int64(9)

	mock.ExpectQuery("INSERT INTO canon.appointments").
		WithArgs("clinic", "1001|2024-01-15", "1001", date, "Mittens", "", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted", "animal_id"}).
			AddRow(int64(5), false, &existing))
	mock.ExpectExec("UPDATE canon.animals").
		WithArgs(int64(9), "Mittens", "female", "", "", "", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// Already attached, so the guarded update is a no-op.
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(int64(9), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("INSERT INTO canon.vitals_observations").
		WithArgs(int64(5), int64(9), 8.2, date).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	rec := model.StagedRecord{
		SourceRowID: "1001|2024-01-15",
		Payload: map[string]string{
			"Number": "1001", "Date": "01/15/2024",
			"Animal Name": "Mittens", "Sex": "Female",
			"Spay Neuter Status": "Intact", "Weight": "8.2",
		},
	}

	s := &ClinicCats{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), []model.StagedRecord{rec}, rep))

	assert.Equal(t, 1, rep.Entities["appointments"].Updated)
	assert.Equal(t, 1, rep.Entities["animals"].Updated)
	assert.Equal(t, 1, rep.Entities["vitals"].Created)
	assert.Zero(t, rep.Entities["appointments"].Linked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicCats_ImplausibleWeightDiscarded(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("INSERT INTO canon.appointments").
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted", "animal_id"}).
			AddRow(int64(6), true, nil))
	mock.ExpectQuery("INSERT INTO canon.animals").
		WithArgs("Boots", "", "", "", "", "", false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(int64(12), int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// A phone number landed in the weight column; no vitals row is written.
	rec := model.StagedRecord{
		SourceRowID: "1002|2024-01-20",
		Payload: map[string]string{
			"Number": "1002", "Date": "01/20/2024",
			"Animal Name": "Boots", "Weight": "5205551234",
		},
	}

	s := &ClinicCats{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), []model.StagedRecord{rec}, rep))

	assert.Equal(t, 1, rep.Entities["animals"].Created)
	assert.Equal(t, 1, rep.Entities["appointments"].Linked)
	assert.NotContains(t, rep.Entities, "vitals")
	require.Len(t, rep.Post.Warnings, 1)
	assert.Contains(t, rep.Post.Warnings[0], "discarded 1 weights")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicOwners_OrgOwnerRoutesToAccount(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	accountID := int64(4)

	mock.ExpectQuery("INSERT INTO canon.appointments").
		WithArgs("clinic", "1001|2024-01-15", "1001", date, "Mittens", "", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted", "animal_id"}).
			AddRow(int64(5), false, nil))
	mock.ExpectQuery("INSERT INTO canon.org_accounts").
		WithArgs("org:desert winds mobile home park", "Desert Winds Mobile Home Park", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs((*int64)(nil), &accountID, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO canon.places").
		WithArgs("place:addr:4100 n flowing wells rd", "", "4100 N Flowing Wells Rd",
			"residence", (*float64)(nil), (*float64)(nil), []byte(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(int64(11), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := model.StagedRecord{
		SourceRowID: "1001|2024-01-15",
		Payload: map[string]string{
			"Number": "1001", "Date": "01/15/2024", "Animal Name": "Mittens",
			"Owner First Name": "Desert Winds", "Owner Last Name": "Mobile Home Park",
			"Owner Address": "4100 N Flowing Wells Rd",
		},
	}

	s := &ClinicOwners{}
	rep := &model.IngestReport{}
	require.NoError(t, s.PostProcess(context.Background(), newDeps(mock), []model.StagedRecord{rec}, rep))

	assert.Equal(t, 1, rep.Entities["accounts"].Created)
	assert.Equal(t, 1, rep.Entities["places"].Created)
	assert.Equal(t, 2, rep.Entities["appointments"].Linked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

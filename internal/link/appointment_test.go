package link

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkAppointmentAnimals_AttachesResolvedChip(t *testing.T) {
	mock := newMock(t)

	// Two unlinked appointments: one with a real chip, one with junk the
	// normalizer rejects outright.
	mock.ExpectQuery("SELECT DISTINCT ON").
		WillReturnRows(pgxmock.NewRows([]string{"id", "chip"}).
			AddRow(int64(10), "977200000000001").
			AddRow(int64(11), "123"))

	animalID := int64(55)
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WithArgs("microchip", "977200000000001").
		WillReturnRows(pgxmock.NewRows([]string{"person_id", "animal_id"}).AddRow(nil, &animalID))
	mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
		WithArgs(int64(55)).
		WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(nil))
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(int64(55), int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	l := newTestLinker(mock, 0)
	n, err := l.LinkAppointmentAnimals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkAppointmentAnimals_UnknownChipStaysUnlinked(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT DISTINCT ON").
		WillReturnRows(pgxmock.NewRows([]string{"id", "chip"}).
			AddRow(int64(10), "985112004567890"))
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WithArgs("microchip", "985112004567890").
		WillReturnError(pgx.ErrNoRows)

	l := newTestLinker(mock, 0)
	n, err := l.LinkAppointmentAnimals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Whichever side of the animal/appointment relationship arrives first,
// the graph converges on the same state. When the animal is ingested
// before its appointment, resolution attaches it inline and the chip
// pass finds nothing to repair; when the appointment staged first, the
// chip pass attaches the identical animal on the next run. Either way
// the owner-edge pass then derives the same edge.
func TestLinkingConvergesRegardlessOfArrivalOrder(t *testing.T) {
	ownerEdgePattern := `(?s)WITH RECURSIVE animal_canon_walk.+INSERT INTO canon\.person_animals`

	t.Run("animal arrived first", func(t *testing.T) {
		mock := newMock(t)

		// Ingest already attached animal 55, so no appointment is chipless.
		mock.ExpectQuery("SELECT DISTINCT ON").
			WillReturnRows(pgxmock.NewRows([]string{"id", "chip"}))
		mock.ExpectExec(ownerEdgePattern).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		l := newTestLinker(mock, 0)
		n, err := l.LinkAppointmentAnimals(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = l.LinkPersonAnimals(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("appointment arrived first", func(t *testing.T) {
		mock := newMock(t)

		// The appointment staged before its cat existed; the chip pass now
		// resolves the same animal 55 that inline resolution would have.
		mock.ExpectQuery("SELECT DISTINCT ON").
			WillReturnRows(pgxmock.NewRows([]string{"id", "chip"}).
				AddRow(int64(10), "977200000000001"))
		animalID := int64(55)
		mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
			WithArgs("microchip", "977200000000001").
			WillReturnRows(pgxmock.NewRows([]string{"person_id", "animal_id"}).AddRow(nil, &animalID))
		mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
			WithArgs(int64(55)).
			WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(nil))
		mock.ExpectExec("UPDATE canon.appointments").
			WithArgs(int64(55), int64(10)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(ownerEdgePattern).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		l := newTestLinker(mock, 0)
		n, err := l.LinkAppointmentAnimals(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = l.LinkPersonAnimals(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("chip animal merged away", func(t *testing.T) {
		mock := newMock(t)

		// The chip's animal was merged into 9 in the meantime. The pass
		// fills the blank appointment with the survivor; it never rewrites
		// an appointment that already carries an animal.
		mock.ExpectQuery("SELECT DISTINCT ON").
			WillReturnRows(pgxmock.NewRows([]string{"id", "chip"}).
				AddRow(int64(10), "977200000000001"))
		animalID := int64(7)
		survivor := int64(9)
		mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
			WithArgs("microchip", "977200000000001").
			WillReturnRows(pgxmock.NewRows([]string{"person_id", "animal_id"}).AddRow(nil, &animalID))
		mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(&survivor))
		mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
			WithArgs(int64(9)).
			WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(nil))
		mock.ExpectExec("UPDATE canon.appointments").
			WithArgs(int64(9), int64(10)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		l := newTestLinker(mock, 0)
		n, err := l.LinkAppointmentAnimals(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLinkAppointmentOwners_PersonOwner(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT a.id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "first", "last", "email", "cell", "phone", "address",
		}).AddRow(int64(3), "Maria", "Lopez", "", "(520) 555-0199", "", "1 Elm St"))

	// No identifier hit, so a new person is created under the phone key.
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WithArgs("phone", "5205550199").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO canon.people").
		WithArgs("phone:5205550199", "Maria", "Lopez", "Maria Lopez", "", "5205550199", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectExec("INSERT INTO canon.identifiers").
		WithArgs("phone", "5205550199", int64(77)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	l := newTestLinker(mock, 0)
	n, err := l.LinkAppointmentOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkAppointmentOwners_PseudoProfileRoutesToAccount(t *testing.T) {
	mock := newMock(t)

	// An org-named owner with no contact info must never become a person.
	mock.ExpectQuery("SELECT a.id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "first", "last", "email", "cell", "phone", "address",
		}).AddRow(int64(4), "Desert Winds Mobile Home Park", "", "", "", "", ""))

	mock.ExpectQuery("INSERT INTO canon.org_accounts").
		WithArgs("org:desert winds mobile home park", "Desert Winds Mobile Home Park", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	l := newTestLinker(mock, 0)
	n, err := l.LinkAppointmentOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkAppointmentOwners_NoIdentitySkipsRow(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT a.id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "first", "last", "email", "cell", "phone", "address",
		}).AddRow(int64(5), "", "", "", "", "", ""))

	l := newTestLinker(mock, 0)
	n, err := l.LinkAppointmentOwners(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveInferredPlaces(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT a.id, sr.payload").
		WillReturnRows(pgxmock.NewRows([]string{"id", "address"}).
			AddRow(int64(6), "123 E Speedway Blvd, Tucson"))

	mock.ExpectQuery("INSERT INTO canon.places").
		WithArgs("place:addr:123 e speedway blvd tucson",
			"", "123 E Speedway Blvd, Tucson", "residence",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectExec("UPDATE canon.appointments").
		WithArgs(int64(31), int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	l := newTestLinker(mock, 0)
	n, err := l.DeriveInferredPlaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

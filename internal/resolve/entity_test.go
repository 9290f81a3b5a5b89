package resolve

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborcats/intake-cli/internal/model"
)

func TestFindOrCreateAnimal_ByMicrochip(t *testing.T) {
	mock := newMock(t)

	animalID := int64(11)
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WithArgs("microchip", "985112004567890").
		WillReturnRows(pgxmock.NewRows([]string{"person_id", "animal_id"}).AddRow(nil, &animalID))
	// Merge chain: 11 survives.
	mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(nil))
	mock.ExpectExec("UPDATE canon.animals SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	r := New(mock, nil)
	id, created, err := r.FindOrCreateAnimal(context.Background(), AnimalAttrs{
		Name:      "Pumpkin",
		Microchip: "985112004567890",
		Sex:       "Female",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateAnimal_FollowsMergePointer(t *testing.T) {
	mock := newMock(t)

	animalID := int64(11)
	survivor := int64(25)
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WillReturnRows(pgxmock.NewRows([]string{"person_id", "animal_id"}).AddRow(nil, &animalID))
	mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(&survivor))
	mock.ExpectQuery("SELECT merged_into_animal_id FROM canon.animals").
		WithArgs(int64(25)).
		WillReturnRows(pgxmock.NewRows([]string{"merged_into_animal_id"}).AddRow(nil))
	mock.ExpectExec("UPDATE canon.animals SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	r := New(mock, nil)
	id, _, err := r.FindOrCreateAnimal(context.Background(), AnimalAttrs{Microchip: "985112004567890"})
	require.NoError(t, err)
	assert.Equal(t, int64(25), id, "resolution must land on the surviving animal")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateAnimal_ChiplessAlwaysCreates(t *testing.T) {
	mock := newMock(t)

	// Too-short chip is junk; no identifier lookup happens.
	mock.ExpectQuery("INSERT INTO canon.animals").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(31)))

	r := New(mock, nil)
	id, created, err := r.FindOrCreateAnimal(context.Background(), AnimalAttrs{
		Name:      "Shadow",
		Microchip: "1234",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(31), id)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowMergeChain_CycleBails(t *testing.T) {
	mock := newMock(t)

	a, b := int64(1), int64(2)
	for i := 0; i < maxMergeHops; i++ {
		next := b
		if i%2 == 1 {
			next = a
		}
		mock.ExpectQuery("SELECT merged_into_place_id FROM canon.places").
			WillReturnRows(pgxmock.NewRows([]string{"merged_into_place_id"}).AddRow(&next))
	}

	r := New(mock, nil)
	_, err := r.CanonicalPlaceID(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge chain")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreatePlace_CreatesNew(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("INSERT INTO canon.places").
		WithArgs("place:addr:123 e speedway blvd tucson", "", "123 E Speedway Blvd, Tucson",
			"residence", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	r := New(mock, nil)
	id, created, err := r.FindOrCreatePlace(context.Background(), PlaceAttrs{
		RawAddress: "123 E Speedway Blvd, Tucson",
		Kind:       model.PlaceResidence,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreatePlace_ExistingEnrichedAndCanonicalized(t *testing.T) {
	mock := newMock(t)

	lat, lng := 32.2226, -110.9747
	mock.ExpectQuery("INSERT INTO canon.places").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id FROM canon.places WHERE place_key").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec("UPDATE canon.places SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT merged_into_place_id FROM canon.places").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"merged_into_place_id"}).AddRow(nil))

	r := New(mock, nil)
	id, created, err := r.FindOrCreatePlace(context.Background(), PlaceAttrs{
		RawAddress: "123 E Speedway Blvd, Tucson",
		Lat:        &lat,
		Lng:        &lng,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreatePlace_NoIdentity(t *testing.T) {
	mock := newMock(t)

	r := New(mock, nil)
	_, _, err := r.FindOrCreatePlace(context.Background(), PlaceAttrs{})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestResolveOwner_RoutesOrgNameToAccount(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("INSERT INTO canon.org_accounts").
		WithArgs("org:desert winds mobile home park", "Desert Winds Mobile Home Park", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))

	r := New(mock, nil)
	ref, err := r.ResolveOwner(context.Background(), PersonAttrs{
		FirstName: "Desert Winds",
		LastName:  "Mobile Home Park",
	})
	require.NoError(t, err)
	require.NotNil(t, ref.AccountID)
	assert.Nil(t, ref.PersonID)
	assert.Equal(t, int64(4), *ref.AccountID)
	assert.True(t, ref.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveOwner_ContactInfoStaysPerson(t *testing.T) {
	mock := newMock(t)

	// Org keyword in the name, but a real email forces the person path.
	mock.ExpectQuery("SELECT person_id, animal_id FROM canon.identifiers").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO canon.people").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectExec("INSERT INTO canon.identifiers").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := New(mock, nil)
	ref, err := r.ResolveOwner(context.Background(), PersonAttrs{
		FirstName: "Ranch",
		LastName:  "Caretaker",
		Email:     "caretaker@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, ref.PersonID)
	assert.Nil(t, ref.AccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateAccount_AliasAccumulation(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("INSERT INTO canon.org_accounts").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id FROM canon.org_accounts WHERE account_key").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec("UPDATE canon.org_accounts").
		WithArgs(int64(4), "Desert Winds MHP").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	r := New(mock, nil)
	id, created, err := r.FindOrCreateAccount(context.Background(), "Desert Winds MHP", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccountByName_Miss(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT id FROM canon.org_accounts").
		WillReturnError(pgx.ErrNoRows)

	r := New(mock, nil)
	id, err := r.FindAccountByName(context.Background(), "Nobody Here LLC")
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

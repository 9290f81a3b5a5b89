package staging

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborcats/intake-cli/internal/model"
)

func TestRowHash(t *testing.T) {
	a := RowHash(map[string]string{"Date": "1/15/2024", "Number": "A100"})
	b := RowHash(map[string]string{"Number": "A100", "Date": "1/15/2024"})
	c := RowHash(map[string]string{"Number": "A101", "Date": "1/15/2024"})

	assert.Len(t, a, 32)
	assert.Equal(t, a, b, "key order must not change the hash")
	assert.NotEqual(t, a, c)
}

func testRow() Row {
	return Row{
		SourceSystem: "clinic",
		SourceTable:  "appointment_info",
		SourceRowID:  "A100",
		UploadID:     "3f1a2b3c-0000-0000-0000-000000000001",
		Payload:      map[string]string{"Number": "A100", "Date": "1/15/2024"},
	}
}

func TestStage_SkippedClaimsUnownedRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	row := testRow()
	hash := RowHash(row.Payload)

	mock.ExpectQuery("SELECT id, upload_id").
		WithArgs(row.SourceSystem, row.SourceTable, hash).
		WillReturnRows(pgxmock.NewRows([]string{"id", "upload_id"}).AddRow(int64(7), nil))
	mock.ExpectExec("UPDATE intake.staged_records SET upload_id").
		WithArgs(row.UploadID, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	outcome, err := NewStore(mock).Stage(context.Background(), row)
	assert.NoError(t, err)
	assert.Equal(t, model.StageSkipped, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStage_SkippedAlreadyClaimed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	row := testRow()
	owner := "3f1a2b3c-0000-0000-0000-00000000ffff"

	mock.ExpectQuery("SELECT id, upload_id").
		WithArgs(row.SourceSystem, row.SourceTable, RowHash(row.Payload)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "upload_id"}).AddRow(int64(7), &owner))

	outcome, err := NewStore(mock).Stage(context.Background(), row)
	assert.NoError(t, err)
	assert.Equal(t, model.StageSkipped, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStage_UpdatedInPlace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	row := testRow()

	mock.ExpectQuery("SELECT id, upload_id").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE intake.staged_records").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	outcome, err := NewStore(mock).Stage(context.Background(), row)
	assert.NoError(t, err)
	assert.Equal(t, model.StageUpdated, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStage_Inserted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	row := testRow()

	mock.ExpectQuery("SELECT id, upload_id").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE intake.staged_records").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO intake.staged_records").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	outcome, err := NewStore(mock).Stage(context.Background(), row)
	assert.NoError(t, err)
	assert.Equal(t, model.StageInserted, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStage_InsertRaceSkips(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, upload_id").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE intake.staged_records").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO intake.staged_records").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	outcome, err := NewStore(mock).Stage(context.Background(), testRow())
	assert.NoError(t, err)
	assert.Equal(t, model.StageSkipped, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "source_system", "source_table", "source_row_id", "row_hash",
		"upload_id", "payload", "created_at", "updated_at",
	}).AddRow(
		int64(1), "tracker", "requests", "C-101", "abc",
		"", []byte(`{"Case Number":"C-101"}`), now, now,
	)

	mock.ExpectQuery("SELECT id, source_system, source_table").
		WithArgs("tracker", "requests").
		WillReturnRows(rows)

	recs, err := NewStore(mock).ListByTable(context.Background(), "tracker", "requests")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "C-101", recs[0].SourceRowID)
	assert.Equal(t, "C-101", recs[0].Payload["Case Number"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

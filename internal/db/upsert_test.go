package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "intake.staged_records",
		Columns:      []string{"id", "payload"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "intake.staged_records",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "intake.staged_records",
		Columns: []string{"id", "payload"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DoUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_intake_source_coverage"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_intake_source_coverage"}, []string{"source_system", "source_table", "coverage_end"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "intake"."source_coverage" .+ ON CONFLICT .+ DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"clinic", "cat_info", "2025-06-30"},
		{"clinic", "owner_info", "2025-06-30"},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "intake.source_coverage",
		Columns:      []string{"source_system", "source_table", "coverage_end"},
		ConflictKeys: []string{"source_system", "source_table"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_SkipUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_intake_staged_records"}, []string{"source_system", "source_table", "row_hash"}).
		WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO "intake"."staged_records" .+ ON CONFLICT .+ DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{
		{"fieldmap", "placemarks", "aaa"},
		{"fieldmap", "placemarks", "bbb"},
		{"fieldmap", "placemarks", "ccc"},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "intake.staged_records",
		Columns:      []string{"source_system", "source_table", "row_hash"},
		ConflictKeys: []string{"source_system", "source_table", "row_hash"},
		SkipUpdate:   true,
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"intake.staged_records", `"intake"."staged_records"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}

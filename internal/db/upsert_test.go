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
	res, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "pharmacies",
		Columns:      []string{"npi", "organization_name"},
		ConflictKeys: []string{"npi"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), res.RowsAffected)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "pharmacies",
		ConflictKeys: []string{"npi"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "pharmacies",
		Columns: []string{"npi", "organization_name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_ReturningSplitsInsertedAndUpdated(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_pharmacies"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_pharmacies"}, []string{"npi", "organization_name"}).
		WillReturnResult(2)
	mock.ExpectQuery(`INSERT INTO "pharmacies"`).
		WillReturnRows(pgxmock.NewRows([]string{"npi", "inserted"}).
			AddRow("1234567890", true).
			AddRow("9876543210", false))
	mock.ExpectCommit()
	mock.ExpectRollback()

	rows := [][]any{{"1234567890", "A"}, {"9876543210", "B"}}
	res, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "pharmacies",
		Columns:      []string{"npi", "organization_name"},
		ConflictKeys: []string{"npi"},
		Coalesce:     true,
		ReturnKey:    "npi",
	}, rows)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.RowsAffected)
	assert.Equal(t, []string{"1234567890"}, res.Inserted)
	assert.Equal(t, []string{"9876543210"}, res.Updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_PlainExecPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_pharmacy_changes"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_pharmacy_changes"}, []string{"npi", "change_type"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "pharmacy_changes"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	res, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "pharmacy_changes",
		Columns:      []string{"npi", "change_type"},
		ConflictKeys: []string{"npi"},
	}, [][]any{{"1234567890", "new"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Empty(t, res.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.pharmacies", `"public"."pharmacies"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"npi", "organization_name", "zip"})
	assert.Equal(t, `"npi", "organization_name", "zip"`, result)
}

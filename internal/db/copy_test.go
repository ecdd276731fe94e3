package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFromEmptyBatch(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "pharmacies", []string{"npi", "organization_name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFromStreamsRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"npi", "organization_name"}
	mock.ExpectCopyFrom(pgx.Identifier{"pharmacies"}, cols).WillReturnResult(2)

	rows := [][]any{
		{"1234567890", "MAIN STREET PHARMACY"},
		{"9876543210", "CVS PHARMACY #1234"},
	}
	n, err := CopyFrom(context.Background(), mock, "pharmacies", cols, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromWrapsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"npi"}
	mock.ExpectCopyFrom(pgx.Identifier{"pharmacies"}, cols).WillReturnError(fmt.Errorf("connection lost"))

	_, err = CopyFrom(context.Background(), mock, "pharmacies", cols, [][]any{{"1234567890"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO pharmacies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

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

func TestCopyInBatches_EmptyRows(t *testing.T) {
	n, err := CopyInBatches(context.TODO(), nil, pgx.Identifier{"schools"}, []string{"a", "b"}, nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyInBatches_SingleBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"schools"}, []string{"urn", "name"}).WillReturnResult(3)

	rows := [][]any{{"100001", "x"}, {"100002", "y"}, {"100003", "z"}}
	n, err := CopyInBatches(context.Background(), mock, pgx.Identifier{"schools"}, []string{"urn", "name"}, rows, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyInBatches_SplitsBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"schools"}, []string{"urn"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"schools"}, []string{"urn"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"schools"}, []string{"urn"}).WillReturnResult(1)

	rows := [][]any{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}}
	n, err := CopyInBatches(context.Background(), mock, pgx.Identifier{"schools"}, []string{"urn"}, rows, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyInBatches_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"admissions_records"}, []string{"id"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"1"}}
	_, err = CopyInBatches(context.Background(), mock, pgx.Identifier{"admissions_records"}, []string{"id"}, rows, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `COPY INTO "admissions_records"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyInBatches_ErrorMidway(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"schools"}, []string{"urn"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"schools"}, []string{"urn"}).WillReturnError(fmt.Errorf("connection reset"))

	rows := [][]any{{"1"}, {"2"}, {"3"}}
	n, err := CopyInBatches(context.Background(), mock, pgx.Identifier{"schools"}, []string{"urn"}, rows, 2)
	require.Error(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

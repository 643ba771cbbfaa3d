package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "card_prints", []string{"set_code", "number"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"card_prints"}, []string{"set_code", "number"}).WillReturnResult(3)

	rows := [][]any{{"g1", "001"}, {"g1", "002"}, {"g1", "003"}}
	n, err := CopyFrom(context.Background(), mock, "card_prints", []string{"set_code", "number"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"card_prints"}, []string{"set_code", "number"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"g1", "001"}}
	_, err = CopyFrom(context.Background(), mock, "card_prints", []string{"set_code", "number"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO card_prints")
	assert.NoError(t, mock.ExpectationsWereMet())
}

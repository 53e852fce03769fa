package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceFeeRepositoryFindFee(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewServiceFeeRepository(db)
	query := regexp.QuoteMeta("SELECT fee FROM church_service_fees WHERE church_id = $1 AND service_id = $2")

	mock.ExpectQuery(query).
		WithArgs("church-1", "svc-1").
		WillReturnRows(sqlmock.NewRows([]string{"fee"}).AddRow("1200.50"))

	fee, ok, err := repo.FindFee(context.Background(), "church-1", "svc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fee.Equal(decimal.RequireFromString("1200.50")))

	mock.ExpectQuery(query).
		WithArgs("church-1", "svc-2").
		WillReturnError(sql.ErrNoRows)

	fee, ok, err = repo.FindFee(context.Background(), "church-1", "svc-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, fee.IsZero())

	mock.ExpectQuery(query).
		WithArgs("church-1", "svc-3").
		WillReturnError(errors.New("canceling statement due to statement timeout"))

	_, _, err = repo.FindFee(context.Background(), "church-1", "svc-3")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

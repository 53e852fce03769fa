package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ServiceFeeRepository reads the configured price of a church service.
type ServiceFeeRepository struct {
	db *sqlx.DB
}

// NewServiceFeeRepository constructs repository.
func NewServiceFeeRepository(db *sqlx.DB) *ServiceFeeRepository {
	return &ServiceFeeRepository{db: db}
}

// FindFee returns the service fee. ok is false when the service has no fee row.
func (r *ServiceFeeRepository) FindFee(ctx context.Context, churchID, serviceID string) (decimal.Decimal, bool, error) {
	const query = `SELECT fee FROM church_service_fees WHERE church_id = $1 AND service_id = $2`
	var fee decimal.Decimal
	err := r.db.GetContext(ctx, &fee, query, churchID, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("find service fee: %w", err)
	}
	return fee, true, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

// SlotCapacityRepository is the source of truth for remaining capacity per
// (time window, date). Rows are created lazily; a missing row means the slot is
// still at full capacity. Every mutation is one conditional statement so
// concurrent callers, in any number of processes, cannot lose updates.
type SlotCapacityRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewSlotCapacityRepository builds repository. clk stamps updated_at; nil uses
// the system clock.
func NewSlotCapacityRepository(db *sqlx.DB, clk clock.Clock) *SlotCapacityRepository {
	if clk == nil {
		clk = clock.System()
	}
	return &SlotCapacityRepository{db: db, clock: clk}
}

func (r *SlotCapacityRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// GetRemaining returns the stored remaining count, or fullCapacity when the pair
// has never been reserved.
func (r *SlotCapacityRepository) GetRemaining(ctx context.Context, exec sqlx.ExtContext, timeWindowID string, date time.Time, fullCapacity int) (int, error) {
	const query = `SELECT remaining_slots FROM date_slot_capacities WHERE time_window_id = $1 AND slot_date = $2`
	var remaining int
	err := sqlx.GetContext(ctx, r.exec(exec), &remaining, query, timeWindowID, models.DateOf(date))
	if errors.Is(err, sql.ErrNoRows) {
		return fullCapacity, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get remaining slots: %w", err)
	}
	return remaining, nil
}

// Reserve takes one unit of capacity and returns what is left. The first
// reservation materialises the row at fullCapacity-1; later ones decrement only
// while remaining_slots > 0. When the guard fails no row comes back and the
// caller gets ErrNoCapacity.
func (r *SlotCapacityRepository) Reserve(ctx context.Context, exec sqlx.ExtContext, timeWindowID string, date time.Time, fullCapacity int) (int, error) {
	if fullCapacity <= 0 {
		return 0, appErrors.ErrNoCapacity
	}

	const query = `
INSERT INTO date_slot_capacities (time_window_id, slot_date, remaining_slots, updated_at)
VALUES ($1, $2, $3 - 1, $4)
ON CONFLICT (time_window_id, slot_date) DO UPDATE
SET remaining_slots = date_slot_capacities.remaining_slots - 1,
    updated_at = EXCLUDED.updated_at
WHERE date_slot_capacities.remaining_slots > 0
RETURNING remaining_slots`

	var remaining int
	err := sqlx.GetContext(ctx, r.exec(exec), &remaining, query, timeWindowID, models.DateOf(date), fullCapacity, r.clock.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, appErrors.ErrNoCapacity
	}
	if err != nil {
		return 0, fmt.Errorf("reserve slot: %w", mapCheckViolation(err))
	}
	return remaining, nil
}

// Release gives one unit back, clamped at fullCapacity so duplicate releases
// can never inflate the slot. A missing row is already at full capacity.
func (r *SlotCapacityRepository) Release(ctx context.Context, exec sqlx.ExtContext, timeWindowID string, date time.Time, fullCapacity int) error {
	const query = `
UPDATE date_slot_capacities
SET remaining_slots = LEAST(remaining_slots + 1, $3),
    updated_at = $4
WHERE time_window_id = $1 AND slot_date = $2`

	if _, err := r.exec(exec).ExecContext(ctx, query, timeWindowID, models.DateOf(date), fullCapacity, r.clock.Now().UTC()); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// ListRemaining loads materialised rows for the windows within [from, to].
// Pairs absent from the result are at full capacity.
func (r *SlotCapacityRepository) ListRemaining(ctx context.Context, timeWindowIDs []string, from, to time.Time) ([]models.DateSlotCapacity, error) {
	if len(timeWindowIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT time_window_id, slot_date, remaining_slots, updated_at
FROM date_slot_capacities
WHERE time_window_id = ANY($1::uuid[]) AND slot_date BETWEEN $2 AND $3
ORDER BY slot_date ASC`
	var rows []models.DateSlotCapacity
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(timeWindowIDs), models.DateOf(from), models.DateOf(to)); err != nil {
		return nil, fmt.Errorf("list remaining slots: %w", err)
	}
	return rows, nil
}

// DeleteBefore drops rows for dates that can no longer be booked.
func (r *SlotCapacityRepository) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	const query = `DELETE FROM date_slot_capacities WHERE slot_date < $1`
	result, err := r.db.ExecContext(ctx, query, models.DateOf(date))
	if err != nil {
		return 0, fmt.Errorf("purge slot capacities: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge slot capacities rows affected: %w", err)
	}
	return affected, nil
}

// mapCheckViolation turns the remaining_slots >= 0 constraint into ErrNoCapacity;
// it can only fire when a zero-capacity row is inserted.
func mapCheckViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23514" {
		return appErrors.ErrNoCapacity
	}
	return err
}

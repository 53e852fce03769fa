package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

// ScheduleRepository persists schedules with their recurrence rules and time windows.
type ScheduleRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewScheduleRepository constructs repository.
func NewScheduleRepository(db *sqlx.DB, clk clock.Clock) *ScheduleRepository {
	if clk == nil {
		clk = clock.System()
	}
	return &ScheduleRepository{db: db, clock: clk}
}

func (r *ScheduleRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const scheduleColumns = `id, church_id, service_id, sub_service_variant_id, start_date, end_date, slot_capacity, created_at, updated_at`

// FindByID returns a schedule row without its children.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListRecurrences returns every rule attached to a schedule.
func (r *ScheduleRepository) ListRecurrences(ctx context.Context, scheduleID string) ([]models.Recurrence, error) {
	const query = `SELECT id, schedule_id, recurrence_type, day_of_week, week_of_month, specific_date, created_at
FROM schedule_recurrences WHERE schedule_id = $1 ORDER BY created_at ASC`
	var recs []models.Recurrence
	if err := r.db.SelectContext(ctx, &recs, query, scheduleID); err != nil {
		return nil, fmt.Errorf("list schedule recurrences: %w", err)
	}
	return recs, nil
}

// ListTimeWindows returns the windows of a schedule ordered by start time.
func (r *ScheduleRepository) ListTimeWindows(ctx context.Context, scheduleID string) ([]models.TimeWindow, error) {
	const query = `SELECT id, schedule_id, start_time, end_time, created_at
FROM schedule_time_windows WHERE schedule_id = $1 ORDER BY start_time ASC, id ASC`
	var windows []models.TimeWindow
	if err := r.db.SelectContext(ctx, &windows, query, scheduleID); err != nil {
		return nil, fmt.Errorf("list schedule time windows: %w", err)
	}
	return windows, nil
}

// FindDetail loads a schedule together with its rules and windows.
func (r *ScheduleRepository) FindDetail(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	schedule, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	recs, err := r.ListRecurrences(ctx, id)
	if err != nil {
		return nil, err
	}
	windows, err := r.ListTimeWindows(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ScheduleDetail{Schedule: *schedule, Recurrences: recs, TimeWindows: windows}, nil
}

// Create inserts the schedule and all of its children. IDs are assigned when empty.
func (r *ScheduleRepository) Create(ctx context.Context, exec sqlx.ExtContext, detail *models.ScheduleDetail) error {
	if detail == nil {
		return fmt.Errorf("schedule payload is nil")
	}
	target := r.exec(exec)
	now := r.clock.Now().UTC()
	if detail.ID == "" {
		detail.ID = uuid.NewString()
	}
	detail.CreatedAt = now
	detail.UpdatedAt = now

	const insertSchedule = `
INSERT INTO schedules (id, church_id, service_id, sub_service_variant_id, start_date, end_date, slot_capacity, created_at, updated_at)
VALUES (:id, :church_id, :service_id, :sub_service_variant_id, :start_date, :end_date, :slot_capacity, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertSchedule, &detail.Schedule); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	if err := r.insertRecurrences(ctx, target, detail.ID, detail.Recurrences, now); err != nil {
		return err
	}

	const insertWindow = `
INSERT INTO schedule_time_windows (id, schedule_id, start_time, end_time, created_at)
VALUES (:id, :schedule_id, :start_time, :end_time, :created_at)`
	for i := range detail.TimeWindows {
		w := &detail.TimeWindows[i]
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		w.ScheduleID = detail.ID
		w.CreatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, target, insertWindow, w); err != nil {
			return fmt.Errorf("insert schedule time window: %w", err)
		}
	}
	return nil
}

// ReplaceRecurrences swaps the rule set of a schedule. Capacity rows and
// appointments are left untouched; dates that no longer match simply stop
// appearing as open.
func (r *ScheduleRepository) ReplaceRecurrences(ctx context.Context, exec sqlx.ExtContext, scheduleID string, recs []models.Recurrence) error {
	target := r.exec(exec)
	const deleteQuery = `DELETE FROM schedule_recurrences WHERE schedule_id = $1`
	if _, err := target.ExecContext(ctx, deleteQuery, scheduleID); err != nil {
		return fmt.Errorf("delete schedule recurrences: %w", err)
	}
	now := r.clock.Now().UTC()
	if err := r.insertRecurrences(ctx, target, scheduleID, recs, now); err != nil {
		return err
	}
	const touch = `UPDATE schedules SET updated_at = $2 WHERE id = $1`
	if _, err := target.ExecContext(ctx, touch, scheduleID, now); err != nil {
		return fmt.Errorf("touch schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) insertRecurrences(ctx context.Context, target sqlx.ExtContext, scheduleID string, recs []models.Recurrence, now time.Time) error {
	const query = `
INSERT INTO schedule_recurrences (id, schedule_id, recurrence_type, day_of_week, week_of_month, specific_date, created_at)
VALUES (:id, :schedule_id, :recurrence_type, :day_of_week, :week_of_month, :specific_date, :created_at)`
	for i := range recs {
		rec := &recs[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.ScheduleID = scheduleID
		rec.CreatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, target, query, rec); err != nil {
			return fmt.Errorf("insert schedule recurrence: %w", err)
		}
	}
	return nil
}

// Delete removes a schedule; recurrences, windows and capacity rows cascade.
// Appointments keep the schedule alive.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return appErrors.Clone(appErrors.ErrConflict, "schedule still referenced by appointments")
		}
		return fmt.Errorf("delete schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HasActiveAppointments reports whether any pending or confirmed booking still
// references the schedule.
func (r *ScheduleRepository) HasActiveAppointments(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM appointments WHERE schedule_id = $1 AND status IN ('PENDING', 'CONFIRMED'))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("check schedule appointments: %w", err)
	}
	return exists, nil
}

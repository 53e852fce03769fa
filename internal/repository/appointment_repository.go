package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
)

// AppointmentRepository stores bookings.
type AppointmentRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAppointmentRepository constructs repository.
func NewAppointmentRepository(db *sqlx.DB, clk clock.Clock) *AppointmentRepository {
	if clk == nil {
		clk = clock.System()
	}
	return &AppointmentRepository{db: db, clock: clk}
}

func (r *AppointmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const appointmentColumns = `id, user_id, church_id, service_id, schedule_id, time_window_id, appointment_date, status,
cancellation_category, cancellation_fee, cancelled_at, status_reason, reschedule_count, last_rescheduled_at, notes, created_at, updated_at`

// Create inserts a new appointment.
func (r *AppointmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	if appt == nil {
		return fmt.Errorf("appointment payload is nil")
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := r.clock.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	appt.AppointmentDate = models.DateOf(appt.AppointmentDate)

	const query = `
INSERT INTO appointments (id, user_id, church_id, service_id, schedule_id, time_window_id, appointment_date, status, notes, created_at, updated_at)
VALUES (:id, :user_id, :church_id, :service_id, :schedule_id, :time_window_id, :appointment_date, :status, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, appt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// FindByID loads an appointment.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, id); err != nil {
		return nil, err
	}
	return &appt, nil
}

// FindByIDForUpdate loads and row-locks an appointment inside exec's transaction
// so concurrent transitions of the same booking serialise.
func (r *AppointmentRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`
	var appt models.Appointment
	if err := sqlx.GetContext(ctx, r.exec(exec), &appt, query, id); err != nil {
		return nil, err
	}
	return &appt, nil
}

// UpdateStatus persists a transition. The row is only touched while it still
// has status from; sql.ErrNoRows signals that another writer got there first.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment, from models.AppointmentStatus) error {
	appt.UpdatedAt = r.clock.Now().UTC()
	const query = `
UPDATE appointments
SET status = $3,
    cancellation_category = $4,
    cancellation_fee = $5,
    cancelled_at = $6,
    status_reason = $7,
    updated_at = $8
WHERE id = $1 AND status = $2`
	res, err := r.exec(exec).ExecContext(ctx, query,
		appt.ID, from, appt.Status, appt.CancellationCategory, appt.CancellationFee, appt.CancelledAt, appt.StatusReason, appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	return expectOneRow(res, "update appointment status")
}

// UpdateSlot moves an active appointment to another (window, date).
func (r *AppointmentRepository) UpdateSlot(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	appt.UpdatedAt = r.clock.Now().UTC()
	appt.AppointmentDate = models.DateOf(appt.AppointmentDate)
	const query = `
UPDATE appointments
SET time_window_id = $2,
    appointment_date = $3,
    reschedule_count = $4,
    last_rescheduled_at = $5,
    updated_at = $6
WHERE id = $1 AND status IN ('PENDING', 'CONFIRMED')`
	res, err := r.exec(exec).ExecContext(ctx, query,
		appt.ID, appt.TimeWindowID, appt.AppointmentDate, appt.RescheduleCount, appt.LastRescheduledAt, appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment slot: %w", err)
	}
	return expectOneRow(res, "update appointment slot")
}

// ListByUser returns a user's appointments newest first plus the total count.
func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Appointment, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM appointments WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE user_id = $1
ORDER BY appointment_date DESC, created_at DESC LIMIT $2 OFFSET $3`
	var items []models.Appointment
	if err := r.db.SelectContext(ctx, &items, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return items, total, nil
}

func expectOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

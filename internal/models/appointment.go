package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AppointmentStatus is the lifecycle state of a booking.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentRejected  AppointmentStatus = "REJECTED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
)

// Terminal reports whether no further transition is possible.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case AppointmentRejected, AppointmentCancelled, AppointmentCompleted:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in this state occupies capacity that
// must be given back when it leaves the state.
func (s AppointmentStatus) HoldsSlot() bool {
	return s == AppointmentPending || s == AppointmentConfirmed
}

// ParseAppointmentStatus accepts status names case-insensitively; "approved" is
// an alias of CONFIRMED.
func ParseAppointmentStatus(raw string) (AppointmentStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return AppointmentPending, true
	case "CONFIRMED", "APPROVED":
		return AppointmentConfirmed, true
	case "REJECTED":
		return AppointmentRejected, true
	case "CANCELLED", "CANCELED":
		return AppointmentCancelled, true
	case "COMPLETED":
		return AppointmentCompleted, true
	}
	return "", false
}

// CancellationCategory is the advisory fee bucket decided at cancel time.
type CancellationCategory string

const (
	CancellationNoFee   CancellationCategory = "no_fee"
	CancellationWithFee CancellationCategory = "with_fee"
)

// Appointment is a member's booking of one slot.
type Appointment struct {
	ID                   string                `db:"id" json:"id"`
	UserID               string                `db:"user_id" json:"user_id"`
	ChurchID             string                `db:"church_id" json:"church_id"`
	ServiceID            string                `db:"service_id" json:"service_id"`
	ScheduleID           string                `db:"schedule_id" json:"schedule_id"`
	TimeWindowID         string                `db:"time_window_id" json:"time_window_id"`
	AppointmentDate      time.Time             `db:"appointment_date" json:"appointment_date"`
	Status               AppointmentStatus     `db:"status" json:"status"`
	CancellationCategory *CancellationCategory `db:"cancellation_category" json:"cancellation_category,omitempty"`
	CancellationFee      decimal.NullDecimal   `db:"cancellation_fee" json:"cancellation_fee"`
	CancelledAt          *time.Time            `db:"cancelled_at" json:"cancelled_at,omitempty"`
	StatusReason         *string               `db:"status_reason" json:"status_reason,omitempty"`
	RescheduleCount      int                   `db:"reschedule_count" json:"reschedule_count"`
	LastRescheduledAt    *time.Time            `db:"last_rescheduled_at" json:"last_rescheduled_at,omitempty"`
	Notes                *string               `db:"notes" json:"notes,omitempty"`
	CreatedAt            time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time             `db:"updated_at" json:"updated_at"`
}

// AppointmentEvent is broadcast after a booking or status change.
type AppointmentEvent struct {
	Type          string            `json:"type"`
	AppointmentID string            `json:"appointment_id"`
	UserID        string            `json:"user_id"`
	ChurchID      string            `json:"church_id"`
	From          AppointmentStatus `json:"from,omitempty"`
	To            AppointmentStatus `json:"to"`
	Date          string            `json:"date"`
	TimeWindowID  string            `json:"time_window_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentStatus      = "appointment.status_changed"
	EventAppointmentRescheduled = "appointment.rescheduled"
)

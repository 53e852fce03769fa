package models

import "time"

// RecurrenceType enumerates the supported recurrence rules.
type RecurrenceType string

const (
	RecurrenceWeekly     RecurrenceType = "WEEKLY"
	RecurrenceMonthlyNth RecurrenceType = "MONTHLY_NTH"
	RecurrenceOneTime    RecurrenceType = "ONE_TIME"
)

// LastWeekOfMonth selects the final occurrence of a weekday in a month.
const LastWeekOfMonth = -1

// Recurrence describes which calendar dates a schedule applies to. DayOfWeek uses
// 0=Sunday..6=Saturday.
type Recurrence struct {
	ID           string         `db:"id" json:"id"`
	ScheduleID   string         `db:"schedule_id" json:"schedule_id"`
	Type         RecurrenceType `db:"recurrence_type" json:"type"`
	DayOfWeek    *int           `db:"day_of_week" json:"day_of_week,omitempty"`
	WeekOfMonth  *int           `db:"week_of_month" json:"week_of_month,omitempty"`
	SpecificDate *time.Time     `db:"specific_date" json:"specific_date,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

package models

import "time"

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

// Schedule is a recurring availability definition for one church service.
type Schedule struct {
	ID                  string     `db:"id" json:"id"`
	ChurchID            string     `db:"church_id" json:"church_id"`
	ServiceID           string     `db:"service_id" json:"service_id"`
	SubServiceVariantID *string    `db:"sub_service_variant_id" json:"sub_service_variant_id,omitempty"`
	StartDate           time.Time  `db:"start_date" json:"start_date"`
	EndDate             *time.Time `db:"end_date" json:"end_date,omitempty"`
	SlotCapacity        int        `db:"slot_capacity" json:"slot_capacity"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Covers reports whether date falls inside the schedule validity window. A nil
// EndDate means the schedule is open-ended.
func (s Schedule) Covers(date time.Time) bool {
	d := DateOf(date)
	if d.Before(DateOf(s.StartDate)) {
		return false
	}
	if s.EndDate != nil && d.After(DateOf(*s.EndDate)) {
		return false
	}
	return true
}

// Clamp narrows [from, to] to the validity window. ok is false when nothing remains.
func (s Schedule) Clamp(from, to time.Time) (time.Time, time.Time, bool) {
	from, to = DateOf(from), DateOf(to)
	if start := DateOf(s.StartDate); from.Before(start) {
		from = start
	}
	if s.EndDate != nil {
		if end := DateOf(*s.EndDate); to.After(end) {
			to = end
		}
	}
	return from, to, !from.After(to)
}

// TimeWindow is a time-of-day range reused on every date the schedule applies to.
// Times are "HH:MM" in the church's local time.
type TimeWindow struct {
	ID         string    `db:"id" json:"id"`
	ScheduleID string    `db:"schedule_id" json:"schedule_id"`
	StartTime  string    `db:"start_time" json:"start_time"`
	EndTime    string    `db:"end_time" json:"end_time"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ScheduleDetail bundles a schedule with the rules and windows it owns.
type ScheduleDetail struct {
	Schedule
	Recurrences []Recurrence `json:"recurrences"`
	TimeWindows []TimeWindow `json:"time_windows"`
}

// Window returns the time window with id, if the schedule owns it.
func (d ScheduleDetail) Window(id string) (TimeWindow, bool) {
	for _, w := range d.TimeWindows {
		if w.ID == id {
			return w, true
		}
	}
	return TimeWindow{}, false
}

// DateSlotCapacity is the materialised remaining capacity of one (window, date)
// pair. A missing row means the full schedule capacity is still available.
type DateSlotCapacity struct {
	TimeWindowID   string    `db:"time_window_id" json:"time_window_id"`
	SlotDate       time.Time `db:"slot_date" json:"slot_date"`
	RemainingSlots int       `db:"remaining_slots" json:"remaining_slots"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OpenSlot is one bookable (date, window) pair with capacity left.
type OpenSlot struct {
	Date         time.Time `json:"date"`
	TimeWindowID string    `json:"time_window_id"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	Remaining    int       `json:"remaining"`
}

// DateOf truncates t to its calendar date at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, raw, time.UTC)
}

package dto

import "github.com/Cyannimazing/churchms-backend-sub001/internal/models"

// RecurrenceRequest describes one recurrence rule. Which fields are required
// depends on Type.
type RecurrenceRequest struct {
	Type         string  `json:"type" validate:"required,oneof=WEEKLY MONTHLY_NTH ONE_TIME"`
	DayOfWeek    *int    `json:"dayOfWeek" validate:"omitempty,min=0,max=6"`
	WeekOfMonth  *int    `json:"weekOfMonth"`
	SpecificDate *string `json:"specificDate" validate:"omitempty,datetime=2006-01-02"`
}

// TimeWindowRequest is a time-of-day range in HH:MM.
type TimeWindowRequest struct {
	StartTime string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string `json:"endTime" validate:"required,datetime=15:04"`
}

// CreateScheduleRequest defines a schedule with its rules and windows.
type CreateScheduleRequest struct {
	ChurchID            string              `json:"churchId" validate:"required,uuid"`
	ServiceID           string              `json:"serviceId" validate:"required,uuid"`
	SubServiceVariantID *string             `json:"subServiceVariantId" validate:"omitempty,uuid"`
	StartDate           string              `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate             *string             `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	SlotCapacity        int                 `json:"slotCapacity" validate:"required,min=1"`
	Recurrences         []RecurrenceRequest `json:"recurrences" validate:"omitempty,dive"`
	TimeWindows         []TimeWindowRequest `json:"timeWindows" validate:"required,min=1,dive"`
}

// ReplaceRecurrencesRequest swaps the full rule set of a schedule.
type ReplaceRecurrencesRequest struct {
	Recurrences []RecurrenceRequest `json:"recurrences" validate:"omitempty,dive"`
}

// OpenSlotsQuery bounds an availability listing.
type OpenSlotsQuery struct {
	From string `form:"from" validate:"required,datetime=2006-01-02"`
	To   string `form:"to" validate:"required,datetime=2006-01-02"`
}

// AvailabilityQuery asks about a single (date, window) pair.
type AvailabilityQuery struct {
	Date         string `form:"date" validate:"required,datetime=2006-01-02"`
	TimeWindowID string `form:"time_window_id" validate:"required"`
}

// OpenSlotResponse is one bookable slot.
type OpenSlotResponse struct {
	Date         string `json:"date"`
	TimeWindowID string `json:"timeWindowId"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	Remaining    int    `json:"remaining"`
}

// OpenSlotsResponse lists open slots for a schedule and range.
type OpenSlotsResponse struct {
	ScheduleID string             `json:"scheduleId"`
	From       string             `json:"from"`
	To         string             `json:"to"`
	Slots      []OpenSlotResponse `json:"slots"`
}

// AvailabilityResponse answers an availability check.
type AvailabilityResponse struct {
	ScheduleID   string `json:"scheduleId"`
	Date         string `json:"date"`
	TimeWindowID string `json:"timeWindowId"`
	Available    bool   `json:"available"`
}

// NewOpenSlotResponses converts model slots for the wire.
func NewOpenSlotResponses(slots []models.OpenSlot) []OpenSlotResponse {
	out := make([]OpenSlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, OpenSlotResponse{
			Date:         s.Date.Format(models.DateLayout),
			TimeWindowID: s.TimeWindowID,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Remaining:    s.Remaining,
		})
	}
	return out
}

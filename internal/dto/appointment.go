package dto

// BookAppointmentRequest books one slot. UserID comes from the caller's token.
type BookAppointmentRequest struct {
	ScheduleID   string  `json:"scheduleId" validate:"required"`
	TimeWindowID string  `json:"timeWindowId" validate:"required"`
	Date         string  `json:"date" validate:"required,datetime=2006-01-02"`
	Notes        *string `json:"notes" validate:"omitempty,max=1000"`
	UserID       string  `json:"-" validate:"required"`
}

// ChangeStatusRequest requests a lifecycle transition.
type ChangeStatusRequest struct {
	Status string  `json:"status" validate:"required"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// RescheduleRequest moves an appointment to another slot of the same schedule.
type RescheduleRequest struct {
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeWindowID string `json:"timeWindowId" validate:"required"`
}

// AppointmentListQuery pages a member's appointments.
type AppointmentListQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/dto"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/middleware"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/response"
)

type scheduleService interface {
	Create(ctx context.Context, req dto.CreateScheduleRequest) (*models.ScheduleDetail, error)
	Get(ctx context.Context, id string) (*models.ScheduleDetail, error)
	ReplaceRecurrences(ctx context.Context, id string, req dto.ReplaceRecurrencesRequest) (*models.ScheduleDetail, error)
	Delete(ctx context.Context, id string) error
}

type availabilityService interface {
	IsAvailable(ctx context.Context, scheduleID string, date time.Time, timeWindowID string) (bool, error)
	ListOpenSlots(ctx context.Context, scheduleID string, from, to time.Time) ([]models.OpenSlot, bool, error)
}

// ScheduleHandler exposes schedule definitions and their availability.
type ScheduleHandler struct {
	schedules    scheduleService
	availability availabilityService
}

// NewScheduleHandler builds a new handler.
func NewScheduleHandler(schedules scheduleService, availability availabilityService) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, availability: availability}
}

// Create godoc
// @Summary Create a schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid schedule payload"))
		return
	}
	detail, err := h.schedules.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Get godoc
// @Summary Get a schedule with its recurrences and time windows
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	detail, err := h.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// ReplaceRecurrences godoc
// @Summary Replace the recurrence rules of a schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.ReplaceRecurrencesRequest true "Recurrences"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/recurrences [put]
func (h *ScheduleHandler) ReplaceRecurrences(c *gin.Context) {
	var req dto.ReplaceRecurrencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid recurrence payload"))
		return
	}
	detail, err := h.schedules.ReplaceRecurrences(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Delete godoc
// @Summary Delete a schedule without active appointments
// @Tags Schedules
// @Param id path string true "Schedule ID"
// @Success 204
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.schedules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// OpenSlots godoc
// @Summary List open slots of a schedule
// @Tags Availability
// @Produce json
// @Param id path string true "Schedule ID"
// @Param from query string true "First date (YYYY-MM-DD)"
// @Param to query string true "Last date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/slots [get]
func (h *ScheduleHandler) OpenSlots(c *gin.Context) {
	query := dto.OpenSlotsQuery{From: c.Query("from"), To: c.Query("to")}
	from, errFrom := models.ParseDate(query.From)
	to, errTo := models.ParseDate(query.To)
	if errFrom != nil || errTo != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from and to must be YYYY-MM-DD dates"))
		return
	}

	id := c.Param("id")
	slots, hit, err := h.availability.ListOpenSlots(c.Request.Context(), id, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, dto.OpenSlotsResponse{
		ScheduleID: id,
		From:       query.From,
		To:         query.To,
		Slots:      dto.NewOpenSlotResponses(slots),
	}, nil, middleware.Meta(c))
}

// Availability godoc
// @Summary Check one slot of a schedule
// @Tags Availability
// @Produce json
// @Param id path string true "Schedule ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param time_window_id query string true "Time window ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/availability [get]
func (h *ScheduleHandler) Availability(c *gin.Context) {
	query := dto.AvailabilityQuery{Date: c.Query("date"), TimeWindowID: c.Query("time_window_id")}
	date, err := models.ParseDate(query.Date)
	if err != nil || query.TimeWindowID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date (YYYY-MM-DD) and time_window_id are required"))
		return
	}

	id := c.Param("id")
	ok, err := h.availability.IsAvailable(c.Request.Context(), id, date, query.TimeWindowID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AvailabilityResponse{
		ScheduleID:   id,
		Date:         query.Date,
		TimeWindowID: query.TimeWindowID,
		Available:    ok,
	}, nil)
}

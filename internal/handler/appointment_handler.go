package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/dto"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/service"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/response"
)

type appointmentService interface {
	Book(ctx context.Context, req dto.BookAppointmentRequest) (*models.Appointment, error)
	Get(ctx context.Context, id string) (*models.Appointment, error)
	ChangeStatus(ctx context.Context, id string, to models.AppointmentStatus, sc service.StatusChangeContext) (*models.Appointment, error)
	Reschedule(ctx context.Context, id string, req dto.RescheduleRequest) (*models.Appointment, error)
	ListByUser(ctx context.Context, userID string, query dto.AppointmentListQuery) ([]models.Appointment, *models.Pagination, error)
}

// AppointmentHandler exposes booking and the appointment lifecycle.
type AppointmentHandler struct {
	service appointmentService
}

// NewAppointmentHandler builds a new handler.
func NewAppointmentHandler(service appointmentService) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

// Book godoc
// @Summary Book a slot
// @Description A 409 NO_CAPACITY means the slot filled up since it was listed; refresh availability and retry.
// @Tags Appointments
// @Accept json
// @Produce json
// @Param payload body dto.BookAppointmentRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments [post]
func (h *AppointmentHandler) Book(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid booking payload"))
		return
	}
	req.UserID = claims.UserID

	appt, err := h.service.Book(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appt)
}

// ListMine godoc
// @Summary List the caller's appointments
// @Tags Appointments
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *AppointmentHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.AppointmentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid pagination"))
		return
	}
	items, page, err := h.service.ListByUser(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get an appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(c *gin.Context) {
	appt, ok := h.load(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// ChangeStatus godoc
// @Summary Change appointment status
// @Description Members may only cancel their own appointments; staff may apply any allowed transition.
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body dto.ChangeStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/status [patch]
func (h *AppointmentHandler) ChangeStatus(c *gin.Context) {
	var req dto.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid status payload"))
		return
	}
	to, ok := models.ParseAppointmentStatus(req.Status)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status "+req.Status))
		return
	}

	claims := claimsFromContext(c)
	appt, ok := h.load(c)
	if !ok {
		return
	}
	if !claims.Role.IsStaff() && to != models.AppointmentCancelled {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only staff may change appointments to "+string(to)))
		return
	}

	updated, err := h.service.ChangeStatus(c.Request.Context(), appt.ID, to, service.StatusChangeContext{ActorID: claims.UserID, Reason: req.Reason})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Reschedule godoc
// @Summary Move an appointment to another slot
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body dto.RescheduleRequest true "New slot"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/reschedule [post]
func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	var req dto.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid reschedule payload"))
		return
	}
	appt, ok := h.load(c)
	if !ok {
		return
	}
	updated, err := h.service.Reschedule(c.Request.Context(), appt.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// load fetches the path appointment and checks the caller may act on it. It
// writes the error response itself.
func (h *AppointmentHandler) load(c *gin.Context) (*models.Appointment, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	appt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !canActOn(claims, appt) {
		response.Error(c, appErrors.ErrForbidden)
		return nil, false
	}
	return appt, true
}

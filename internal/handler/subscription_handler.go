package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/response"
)

type subscriptionService interface {
	GuardedTick(ctx context.Context) (*models.SubscriptionTickReport, bool, error)
	ChurchVisible(ctx context.Context, churchID string) (bool, error)
}

// SubscriptionHandler exposes the subscription sweep to operators.
type SubscriptionHandler struct {
	service subscriptionService
}

// NewSubscriptionHandler builds a new handler.
func NewSubscriptionHandler(service subscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

type tickResponse struct {
	Ran    bool                           `json:"ran"`
	Report *models.SubscriptionTickReport `json:"report,omitempty"`
}

type visibilityResponse struct {
	ChurchID string `json:"church_id"`
	Visible  bool   `json:"visible"`
}

// Tick godoc
// @Summary Run the subscription status sweep now
// @Description ran is false when another runner currently holds the sweep lock.
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/subscriptions/tick [post]
func (h *SubscriptionHandler) Tick(c *gin.Context) {
	report, ran, err := h.service.GuardedTick(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tickResponse{Ran: ran, Report: report}, nil)
}

// ChurchVisibility godoc
// @Summary Check whether a church is publicly listed
// @Tags Admin
// @Produce json
// @Param id path string true "Church ID"
// @Success 200 {object} response.Envelope
// @Router /admin/churches/{id}/visibility [get]
func (h *SubscriptionHandler) ChurchVisibility(c *gin.Context) {
	id := c.Param("id")
	visible, err := h.service.ChurchVisible(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, visibilityResponse{ChurchID: id, Visible: visible}, nil)
}

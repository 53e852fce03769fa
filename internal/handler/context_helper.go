package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/middleware"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// canActOn allows staff everywhere and members only on their own appointments.
func canActOn(claims *models.JWTClaims, appt *models.Appointment) bool {
	if claims == nil {
		return false
	}
	return claims.Role.IsStaff() || claims.UserID == appt.UserID
}

func bindError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/response"
)

// RequireRoles lets the request through only for the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := claimsOf(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff admits church staff, owners and administrators.
func RequireStaff() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin, models.RoleChurchOwner, models.RoleStaff)
}

func claimsOf(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

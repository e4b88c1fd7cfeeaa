package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-approval-api/internal/models"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
	"github.com/noah-isme/coop-approval-api/pkg/response"
)

// RequireRoles restricts a route to the listed roles. Fine-grained
// authorization, such as whether an advisor is assigned to a given
// enrollment, is decided in the service layer where the enrollment is
// known; this gate only rejects roles that could never act.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

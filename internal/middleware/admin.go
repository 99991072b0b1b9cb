package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/medstock/medstock-server/pkg/errors"
	"github.com/medstock/medstock-server/pkg/response"
)

// RequireAdmin restricts a route to callers whose verified token carries the
// admin claim. Must be mounted after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthenticated)
			c.Abort()
			return
		}

		if !claims.IsAdmin {
			response.Error(c, errors.ErrPermissionDenied.WithMessage("Administrator privileges required"))
			c.Abort()
			return
		}

		c.Next()
	}
}

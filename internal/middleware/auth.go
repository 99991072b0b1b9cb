package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/medstock/medstock-server/internal/auth"
	"github.com/medstock/medstock-server/pkg/errors"
	"github.com/medstock/medstock-server/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth enforces JWT authentication using the supplied JWT service. Downstream
// handlers read the verified subject id and claims from the request context.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthenticated)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthenticated)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)

		c.Next()
	}
}

// ClaimsFromContext retrieves the verified token claims stored by Auth.
func ClaimsFromContext(c *gin.Context) (*iauth.Claims, bool) {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*iauth.Claims)
	return claims, ok
}

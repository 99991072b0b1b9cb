package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	iauth "github.com/medstock/medstock-server/internal/auth"
	"github.com/medstock/medstock-server/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the verified subject id stored by the auth middleware.
func currentUserID(c *gin.Context) string {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || claims == nil {
		return ""
	}
	return claims.UserID
}

func currentClaims(c *gin.Context) *iauth.Claims {
	claims, _ := middleware.ClaimsFromContext(c)
	return claims
}

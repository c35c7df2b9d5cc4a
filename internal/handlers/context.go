package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accountd/internal/middleware"
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

// currentUserID reads the authenticated user ID set by the session middleware.
func currentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.CtxUserIDKey)
	if !ok {
		return "", false
	}
	id, _ := v.(string)
	return id, id != ""
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accountd/internal/services"
	apperrors "github.com/charlesng35/accountd/pkg/errors"
	"github.com/charlesng35/accountd/pkg/response"
)

// CtxUserIDKey is the context key holding the authenticated user ID.
const CtxUserIDKey = "userID"

// SessionAuth enforces cookie-based session authentication. Requests without
// a resolvable session key are rejected with 401 before reaching handlers.
func SessionAuth(sessions *services.SessionService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := c.Cookie(cookieName)
		if err != nil || key == "" {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		userID, err := sessions.Resolve(c.Request.Context(), key)
		if err != nil {
			// Expired and unknown keys fail alike.
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

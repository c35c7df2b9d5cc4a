package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accountd/internal/database/testutil"
	"github.com/charlesng35/accountd/internal/services"
)

func TestSessionAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	current := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	sessions, err := services.NewSessionService(db,
		services.WithSessionClock(func() time.Time { return current }),
		services.WithSessionTTL(time.Hour),
	)
	require.NoError(t, err)

	key, err := sessions.Create(context.Background(), "user-123", services.SessionMetadata{})
	require.NoError(t, err)

	r := gin.New()
	r.Use(SessionAuth(sessions, "accountd_session"))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})

	// Missing cookie
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Bogus key
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "accountd_session", Value: "bogus"})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid session
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "accountd_session", Value: key})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-123", w.Body.String())

	// Expired session
	current = current.Add(2 * time.Hour)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "accountd_session", Value: key})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

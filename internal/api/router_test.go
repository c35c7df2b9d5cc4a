package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accountd/internal/app"
	"github.com/charlesng35/accountd/internal/database/testutil"
	"github.com/charlesng35/accountd/internal/middleware"
	"github.com/charlesng35/accountd/internal/services"
	"github.com/charlesng35/accountd/pkg/mail"
	"github.com/charlesng35/accountd/pkg/response"
)

type recordingMailer struct {
	sent []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *recordingMailer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	mailer := &recordingMailer{}

	registration, err := services.NewRegistrationService(db, mailer,
		services.WithBaseURL("https://accounts.example.com"))
	require.NoError(t, err)
	sessions, err := services.NewSessionService(db)
	require.NoError(t, err)
	users, err := services.NewUserService(db)
	require.NoError(t, err)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.RateLimit.Enabled = false

	router, err := NewRouter(cfg, Deps{
		DB:           db,
		Registration: registration,
		Sessions:     sessions,
		Users:        users,
	})
	require.NoError(t, err)

	return router, mailer
}

func doJSON(router *gin.Engine, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// doMutateJSON issues an unsafe request carrying the CSRF token header.
func doMutateJSON(router *gin.Engine, method, path, body, csrfToken string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	reader := strings.NewReader(body)
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.CSRFHeaderName, csrfToken)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// fetchCSRF primes a CSRF cookie and token through a safe request.
func fetchCSRF(t *testing.T, router *gin.Engine) (*http.Cookie, string) {
	t.Helper()

	w := doJSON(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := w.Result()
	defer resp.Body.Close()

	for _, cookie := range resp.Cookies() {
		if cookie.Name == middleware.CSRFCookieName {
			return cookie, resp.Header.Get(middleware.CSRFHeaderName)
		}
	}
	t.Fatal("csrf cookie was not issued")
	return nil, ""
}

func TestRouterSignupVerifySigninFlow(t *testing.T) {
	router, mailer := newTestRouter(t)
	csrfCookie, csrfToken := fetchCSRF(t, router)

	w := doMutateJSON(router, http.MethodPost, "/api/v1/auth/signup", `{"email":"flow@example.com","password":"Sup3rSecret"}`, csrfToken, csrfCookie)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, mailer.sent, 1)

	body := mailer.sent[0].Body
	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0)
	token := body[idx+len("token="):]
	if end := strings.IndexAny(token, "\n \t"); end >= 0 {
		token = token[:end]
	}

	w = doJSON(router, http.MethodGet, "/api/v1/auth/signup/verify?token="+token, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, mailer.sent, 2)

	w = doMutateJSON(router, http.MethodPost, "/api/v1/auth/signin", `{"email":"flow@example.com","password":"Sup3rSecret"}`, csrfToken, csrfCookie)
	require.Equal(t, http.StatusOK, w.Code)

	var session *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "accountd_session" {
			session = cookie
		}
	}
	require.NotNil(t, session)

	w = doJSON(router, http.MethodGet, "/api/v1/auth/me", "", session)
	require.Equal(t, http.StatusOK, w.Code)

	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	data := payload.Data.(map[string]any)
	require.Equal(t, "flow@example.com", data["email"])
	require.Equal(t, true, data["email_verified"])

	w = doMutateJSON(router, http.MethodPost, "/api/v1/auth/signout", "", csrfToken, session, csrfCookie)
	require.Equal(t, http.StatusOK, w.Code)

	// The old key no longer works after signout.
	w = doJSON(router, http.MethodGet, "/api/v1/auth/me", "", session)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouterProtectedRoutesRequireSession(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/users"} {
		w := doJSON(router, http.MethodGet, path, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestRouterRejectsMutationWithoutCSRFToken(t *testing.T) {
	router, mailer := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/auth/signup", `{"email":"flow@example.com","password":"Sup3rSecret"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, mailer.sent)

	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.Equal(t, "CSRF_TOKEN_INVALID", payload.Error.Code)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "accountd_")

	w = doJSON(router, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

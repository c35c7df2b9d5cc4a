package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accountd/internal/models"
	"github.com/charlesng35/accountd/internal/services"
	apperrors "github.com/charlesng35/accountd/pkg/errors"
	"github.com/charlesng35/accountd/pkg/metrics"
	"github.com/charlesng35/accountd/pkg/response"
)

// DefaultSessionCookie is the cookie name used when none is configured.
const DefaultSessionCookie = "accountd_session"

// CookieSettings controls how the session cookie is written.
type CookieSettings struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

// AuthHandler manages the signup, verification and session flows.
type AuthHandler struct {
	registration *services.RegistrationService
	sessions     *services.SessionService
	users        *services.UserService
	cookie       CookieSettings
}

func NewAuthHandler(registration *services.RegistrationService, sessions *services.SessionService, users *services.UserService, cookie CookieSettings) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = DefaultSessionCookie
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{
		registration: registration,
		sessions:     sessions,
		users:        users,
		cookie:       cookie,
	}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

// POST /api/v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		metrics.SignupAttempts.WithLabelValues("invalid").Inc()
		return
	}

	_, err := h.registration.Signup(requestContext(c), services.SignupInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, services.ErrDuplicateEmail) {
			metrics.SignupAttempts.WithLabelValues("duplicate").Inc()
			response.Error(c, services.ErrDuplicateEmail)
			return
		}
		metrics.SignupAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.FromError(err))
		return
	}

	metrics.SignupAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusCreated, gin.H{
		"message": "Account created. Check your inbox for the verification link.",
	})
}

// GET /api/v1/auth/signup/verify?token=
func (h *AuthHandler) SignupVerify(c *gin.Context) {
	token := c.Query("token")

	user, err := h.registration.Verify(requestContext(c), token)
	if err != nil {
		if errors.Is(err, services.ErrVerificationInvalid) {
			metrics.VerificationAttempts.WithLabelValues("invalid").Inc()
			response.Error(c, services.ErrVerificationInvalid)
			return
		}
		metrics.VerificationAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.FromError(err))
		return
	}

	metrics.VerificationAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, userPayload(user))
}

type signinRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /api/v1/auth/signin
func (h *AuthHandler) Signin(c *gin.Context) {
	var req signinRequest
	if !bindAndValidate(c, &req) {
		metrics.SigninAttempts.WithLabelValues("invalid").Inc()
		return
	}

	user, err := h.users.Authenticate(requestContext(c), req.Email, req.Password)
	if err != nil {
		metrics.SigninAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInvalidCredentials)
		return
	}

	key, err := h.sessions.Create(requestContext(c), user.ID, services.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.SigninAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	h.writeSessionCookie(c, key, int(h.sessions.TTL().Seconds()))

	metrics.SigninAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, userPayload(user))
}

// POST /api/v1/auth/signout
func (h *AuthHandler) Signout(c *gin.Context) {
	if key, err := c.Cookie(h.cookie.Name); err == nil && key != "" {
		if err := h.sessions.Clear(requestContext(c), key); err != nil {
			response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
			return
		}
	}

	h.writeSessionCookie(c, "", -1)
	response.Success(c, http.StatusOK, gin.H{"message": "Signed out"})
}

// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, userPayload(user))
}

// CookieName reports the configured session cookie name.
func (h *AuthHandler) CookieName() string {
	return h.cookie.Name
}

func (h *AuthHandler) writeSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, value, maxAge, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"created_at":     user.CreatedAt,
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accountd/internal/services"
	apperrors "github.com/charlesng35/accountd/pkg/errors"
	"github.com/charlesng35/accountd/pkg/response"
)

// UserHandler exposes account management endpoints for signed-in users.
type UserHandler struct {
	users    *services.UserService
	sessions *services.SessionService
}

func NewUserHandler(users *services.UserService, sessions *services.SessionService) *UserHandler {
	return &UserHandler{users: users, sessions: sessions}
}

// GET /api/v1/users
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	users, total, err := h.users.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
	})
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	payload := make([]gin.H, 0, len(users))
	for i := range users {
		payload = append(payload, userPayload(&users[i]))
	}

	totalPages := 0
	if perPage > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	response.SuccessWithMeta(c, http.StatusOK, payload, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

// GET /api/v1/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

type updateUserRequest struct {
	Email *string `json:"email" validate:"omitempty,email"`
}

// PUT /api/v1/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Email: req.Email,
	})
	if err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}
	response.Success(c, http.StatusOK, userPayload(user))
}

// DELETE /api/v1/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	// Revoke sessions first so cached lookups cannot outlive the account.
	if err := h.sessions.ClearForUser(requestContext(c), id); err != nil {
		response.Error(c, apperrors.FromError(err))
		return
	}

	if err := h.users.Delete(requestContext(c), id); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.Error(c, services.ErrUserNotFound)
			return
		}
		response.Error(c, apperrors.FromError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "User deleted"})
}

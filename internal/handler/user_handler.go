package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"topictalks/internal/service"
)

// UserHandler serves account read endpoints.
type UserHandler struct {
	svc service.UserService
}

// NewUserHandler creates a handler layer.
func NewUserHandler(svc service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// Profile godoc
// @Summary Get the caller's profile
// @Tags account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Profile
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /account/profile [get]
func (h *UserHandler) Profile(c echo.Context) error {
	identity, err := identityFrom(c)
	if err != nil {
		return err
	}
	profile, err := h.svc.Profile(c.Request().Context(), identity.UserID)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// ListUsers godoc
// @Summary List users
// @Tags account
// @Produce json
// @Security BearerAuth
// @Success 200 {array} service.Profile
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /account/users [get]
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.svc.ListUsers(c.Request().Context())
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, users)
}

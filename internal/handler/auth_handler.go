package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"topictalks/internal/auth"
	"topictalks/internal/errors"
	"topictalks/internal/model"
	"topictalks/internal/service"
)

// IdentityContextKey is where the bearer middleware stores the *auth.Identity.
const IdentityContextKey = "user"

// AuthHandler handles account endpoints.
type AuthHandler struct {
	authService service.AuthService
	userService service.UserService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService service.AuthService, userService service.UserService) *AuthHandler {
	return &AuthHandler{authService: authService, userService: userService}
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Email         string     `json:"email" validate:"required,email,max=255"`
	Password      string     `json:"password" validate:"required,min=6,max=128"`
	Username      string     `json:"username" validate:"omitempty,max=100"`
	Role          model.Role `json:"role" validate:"required" swaggertype:"string" enums:"Student,Teacher,Moderator"`
	Name          string     `json:"name" validate:"omitempty,max=255"`
	InstituteName string     `json:"institute_name" validate:"omitempty,max=255"`
	IDCardNumber  string     `json:"id_card_number" validate:"omitempty,max=100"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required"`
	Role     model.Role `json:"role" validate:"required" swaggertype:"string" enums:"Student,Teacher,Moderator"`
}

// ChangePasswordRequest represents a password change request.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=128"`
}

// VerifyRequest carries an optional code. Without one a new code is mailed.
type VerifyRequest struct {
	Code string `json:"code"`
}

// AuthResponse represents an authentication response.
type AuthResponse struct {
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	User        *service.Profile `json:"user"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// Register godoc
// @Summary Register a new account
// @Tags account
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /account/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error())
	}

	in := service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Role:     req.Role,
	}
	if req.Name != "" || req.InstituteName != "" || req.IDCardNumber != "" {
		in.Details = &model.UserDetail{
			FullName:      req.Name,
			InstituteName: req.InstituteName,
			IDCardNumber:  req.IDCardNumber,
		}
	}

	res, err := h.authService.Register(c.Request().Context(), in)
	if err != nil {
		return respondError(err)
	}

	return c.JSON(http.StatusCreated, AuthResponse{
		AccessToken: res.Token,
		ExpiresAt:   res.ExpiresAt,
		User:        service.NewProfile(res.User),
	})
}

// Login godoc
// @Summary Login with email, password and role
// @Tags account
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /account/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error())
	}

	res, err := h.authService.Login(c.Request().Context(), req.Email, req.Password, req.Role)
	if err != nil {
		// unknown account and wrong password must look the same
		switch errors.KindOf(err) {
		case errors.KindNotFound, errors.KindUnauthorized:
			return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
				Error: "Invalid Credentials.",
				Code:  "INVALID_CREDENTIALS",
			})
		}
		return respondError(err)
	}

	return c.JSON(http.StatusOK, AuthResponse{
		AccessToken: res.Token,
		ExpiresAt:   res.ExpiresAt,
		User:        service.NewProfile(res.User),
	})
}

// ChangePassword godoc
// @Summary Change the caller's password
// @Tags account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Old and new password"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /account/password [patch]
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	identity, err := identityFrom(c)
	if err != nil {
		return err
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error())
	}

	if err := h.authService.ChangePassword(c.Request().Context(), identity, req.OldPassword, req.NewPassword); err != nil {
		if errors.KindOf(err) == errors.KindUnauthorized {
			return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
				Error: "Invalid old password.",
				Code:  "INVALID_OLD_PASSWORD",
			})
		}
		return respondError(err)
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "Password changed."})
}

// Verify godoc
// @Summary Send or check an email verification code
// @Description Without a code a new one is mailed and any previous code stops working. With a code the account is verified.
// @Tags account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body VerifyRequest false "Verification code"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /account/verify [post]
func (h *AuthHandler) Verify(c echo.Context) error {
	identity, err := identityFrom(c)
	if err != nil {
		return err
	}

	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	ctx := c.Request().Context()
	outcome, err := h.authService.Verify(ctx, identity, req.Code)
	if err != nil {
		if errors.KindOf(err) == errors.KindUnauthorized {
			return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
				Error: "Invalid Otp.",
				Code:  "INVALID_OTP",
			})
		}
		return respondError(err)
	}

	if outcome == service.OtpSent {
		return c.JSON(http.StatusOK, MessageResponse{Message: "Otp sent."})
	}
	h.userService.Invalidate(ctx, identity.UserID)
	return c.JSON(http.StatusOK, MessageResponse{Message: "Email verified."})
}

func identityFrom(c echo.Context) (*auth.Identity, error) {
	identity, ok := c.Get(IdentityContextKey).(*auth.Identity)
	if !ok || identity == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
			Error: "missing or invalid token",
			Code:  "UNAUTHORIZED",
		})
	}
	return identity, nil
}

func badRequest(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
		Error: message,
		Code:  "BAD_REQUEST",
	})
}

// respondError maps a service error onto the HTTP error taxonomy.
func respondError(err error) *echo.HTTPError {
	httpErr := errors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

package router

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"topictalks/internal/auth"
	"topictalks/internal/errors"
	"topictalks/internal/handler"
	"topictalks/internal/model"
	"topictalks/internal/telemetry"
)

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	l *zap.Logger,
	jwtService *auth.JWTService,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
) {
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(telemetry.Middleware())
	e.Use(RequestLogger(l))

	e.Validator = NewValidator()

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	account := e.Group("/api/account")

	// Public routes
	account.POST("/register", authHandler.Register)
	account.POST("/login", authHandler.Login)

	// Secured routes (require a bearer token)
	secured := account.Group("", BearerAuth(jwtService))
	secured.PATCH("/password", authHandler.ChangePassword)
	secured.POST("/verify", authHandler.Verify)
	secured.GET("/profile", userHandler.Profile)
	secured.GET("/users", userHandler.ListUsers, RequireRole(model.RoleModerator))
}

// BearerAuth validates the Authorization header with jwtService and stores
// the resulting *auth.Identity under handler.IdentityContextKey.
func BearerAuth(jwtService *auth.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  handler.IdentityContextKey,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return jwtService.Validate(strings.TrimSpace(token))
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
				Error: "missing or invalid token",
				Code:  "UNAUTHORIZED",
			})
		},
	})
}

// RequireRole rejects callers whose token does not carry role.
func RequireRole(role model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := c.Get(handler.IdentityContextKey).(*auth.Identity)
			if !ok || !identity.HasRole(role) {
				return echo.NewHTTPError(http.StatusForbidden, errors.ErrorResponse{
					Error: "forbidden",
					Code:  "FORBIDDEN",
				})
			}
			return next(c)
		}
	}
}

// RequestLogger logs one line per request through zap.
func RequestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if traceID := telemetry.TraceID(c.Request().Context()); traceID != "" {
				fields = append(fields, zap.String("trace_id", traceID))
			}
			if v.Error != nil && v.Status >= http.StatusInternalServerError {
				l.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			l.Info("request", fields...)
			return nil
		},
	})
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator builds the request validator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

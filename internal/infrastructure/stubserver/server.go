package stubserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/pkg/config"
)

// Deps carries the stub server's backing stores. Mongo and Redis are
// optional; nil means the in-memory implementations are in play and the
// readiness probe skips them.
type Deps struct {
	Users    UserRepository
	Recovery RecoveryStore
	Mongo    *mongo.Database
	Redis    *redis.Client
}

// New builds the Echo instance with all portal auth routes registered.
func New(cfg *config.Stub, deps Deps, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echoprometheus.NewMiddleware("portal_stub"))

	// --- Dependencies ---
	issuer := NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	h := NewAuthHandler(deps.Users, deps.Recovery, issuer, log)
	auth := Auth(issuer)

	// --- Auth routes ---
	g := e.Group("/api/auth")
	g.POST("/login", h.Login)
	g.POST("/register", h.Register)
	g.POST("/refresh", h.Refresh)
	g.GET("/me", h.Me, auth)
	g.PUT("/profile", h.UpdateProfile, auth)
	g.POST("/request-password-reset", h.RequestPasswordReset)
	g.POST("/verify-recovery-code", h.VerifyRecoveryCode)
	g.POST("/reset-password", h.ResetPassword)

	// --- Coordinator student management ---
	s := g.Group("/coordinator/students", auth, RBAC(domain.RoleCoordinator))
	s.GET("", h.ListStudents)
	s.POST("", h.RegisterStudent)
	s.PUT("/:id", h.UpdateStudent)
	s.DELETE("/:id", h.DeleteStudent)

	// --- Operational endpoints (no auth required) ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/health", Liveness)
	e.GET("/health/ready", Readiness(deps))

	return e
}

// detailResponse is the error envelope the portal clients parse.
type detailResponse struct {
	Detail string `json:"detail"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps known repository errors to their appropriate HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"detail": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		_ = c.JSON(code, detailResponse{Detail: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	// Echo's own errors (bind failures, 404 from router, validation, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	switch {
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, ErrUserExists):
		return http.StatusConflict, "An account with this email already exists"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, errInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	}

	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, "internal server error"
}

// Liveness handles GET /health. Returns 200 immediately; confirms the
// process is alive.
func Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// Readiness handles GET /health/ready. It pings whichever external stores
// are configured before declaring the service ready.
func Readiness(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]dependencyStatus)
		healthy := true

		if deps.Mongo != nil {
			if err := deps.Mongo.Client().Ping(ctx, nil); err != nil {
				checks["mongodb"] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
				healthy = false
			} else {
				checks["mongodb"] = dependencyStatus{Status: "ok"}
			}
		}

		if deps.Redis != nil {
			if _, err := deps.Redis.Ping(ctx).Result(); err != nil {
				checks["redis"] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
				healthy = false
			} else {
				checks["redis"] = dependencyStatus{Status: "ok"}
			}
		}

		status := "ok"
		httpStatus := http.StatusOK
		if !healthy {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}

		return c.JSON(httpStatus, readinessResponse{
			Status:       status,
			Dependencies: checks,
		})
	}
}

package api

import (
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/99minutos/identity-system/docs"
	"github.com/99minutos/identity-system/internal/api/handler"
	"github.com/99minutos/identity-system/internal/api/middleware"
	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/pkg/validation"
)

const defaultAuthRateLimit = 5

// Dependencies is everything the router needs to build the HTTP surface.
type Dependencies struct {
	Auth   ports.AuthService
	Tokens ports.TokenValidator
	Roles  ports.RoleService
	Users  ports.UserService

	Liveness  echo.HandlerFunc
	Readiness echo.HandlerFunc

	// AuthRateLimit is requests per second per client IP on /auth routes.
	AuthRateLimit float64
	Logger        zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(deps.Logger))
	e.Use(echoprometheus.NewMiddleware("identity_http"))

	// --- Auth routes (public, rate limited per IP) ---
	authHandler := handler.NewAuthHandler(deps.Auth)
	auth := e.Group("/auth", authRateLimiter(deps.AuthRateLimit))
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/validate-token", authHandler.ValidateToken)

	authenticated := middleware.Auth(deps.Tokens)
	adminOnly := middleware.RBAC(domain.RoleAdmin)

	// --- Role administration (Admin) ---
	roleHandler := handler.NewRoleHandler(deps.Roles)
	roles := e.Group("/roles", authenticated, adminOnly)
	roles.GET("", roleHandler.List)
	roles.POST("", roleHandler.Create)
	roles.GET("/name/:name", roleHandler.GetByName)
	roles.GET("/:id", roleHandler.Get)
	roles.PUT("/:id", roleHandler.Update)
	roles.DELETE("/:id", roleHandler.Delete)
	roles.GET("/name/:name/users", roleHandler.Members)

	// --- Users (self or Admin; the service decides per call) ---
	userHandler := handler.NewUserHandler(deps.Users)
	users := e.Group("/users", authenticated)
	users.GET("", userHandler.List, adminOnly)
	users.GET("/username/:username", userHandler.GetByUsername, adminOnly)
	users.GET("/:id", userHandler.Get)
	users.PUT("/:id", userHandler.Update)
	users.DELETE("/:id", userHandler.Delete, adminOnly)
	users.GET("/:id/roles", userHandler.Roles)
	users.POST("/:id/roles/:role", userHandler.AssignRole, adminOnly)
	users.DELETE("/:id/roles/:role", userHandler.RemoveRole, adminOnly)

	// --- Health probes, metrics and docs (no auth required) ---
	if deps.Liveness != nil {
		e.GET("/health", deps.Liveness) // liveness  – is the process alive?
	}
	if deps.Readiness != nil {
		e.GET("/health/ready", deps.Readiness) // readiness – are dependencies up?
	}
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

func authRateLimiter(perSecond float64) echo.MiddlewareFunc {
	if perSecond <= 0 {
		perSecond = defaultAuthRateLimit
	}
	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     max(1, int(math.Ceil(perSecond*2))),
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		},
	})
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}

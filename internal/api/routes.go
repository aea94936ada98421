// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	SessionMgr SessionManager
	Version    string
	Provider   string
	Model      string
	Log        zerolog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Session  SessionHandler
	Photo    PhotoHandler
	Analysis AnalysisHandler
	Events   EventHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Provider, deps.Model),
		Session:  NewSessionHandler(deps.SessionMgr),
		Photo:    NewPhotoHandler(deps.SessionMgr),
		Analysis: NewAnalysisHandler(deps.SessionMgr),
		Events:   NewWebSocketHandler(deps.SessionMgr, deps.Log),
	}
}

// RegisterRoutes registers all API routes with the Echo instance.
// rateLimit is the allowed AI requests per second per client; zero disables it.
func RegisterRoutes(e *echo.Echo, handlers *Handlers, rateLimit float64) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Page sessions
	sessions := apiGroup.Group("/sessions")
	sessions.POST("", handlers.Session.HandleOpenSession)
	sessions.GET("/:id", handlers.Session.HandleGetSession)
	sessions.DELETE("/:id", handlers.Session.HandleCloseSession)

	// Selected photo
	sessions.PUT("/:id/photo", handlers.Photo.HandleSelectPhoto)
	sessions.GET("/:id/photo", handlers.Photo.HandleGetPhoto)

	// Requests reaching the AI service
	var aiMiddleware []echo.MiddlewareFunc
	if rateLimit > 0 {
		aiMiddleware = append(aiMiddleware, NewRateLimiter(rateLimit))
	}
	sessions.POST("/:id/analyze", handlers.Analysis.HandleAnalyze, aiMiddleware...)
	sessions.POST("/:id/test", handlers.Analysis.HandleTest, aiMiddleware...)

	// WebSocket endpoint
	sessions.GET("/:id/ws", handlers.Events.HandleEvents)
}

// NewRateLimiter limits requests per client IP using echo's in-memory store
func NewRateLimiter(perSecond float64) echo.MiddlewareFunc {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return &APIError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "client not identified"}
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return &APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "too many requests"}
		},
	})
}

// MiddlewareConfig configures the common middleware
type MiddlewareConfig struct {
	Log              zerolog.Logger
	RequestLogging   bool
	BodyLimit        string
	AllowOrigins     string
	ShowErrorDetails bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	// Use custom error handler
	e.HTTPErrorHandler = NewErrorHandler(cfg.Log, cfg.ShowErrorDetails)

	// Add request logging
	if cfg.RequestLogging {
		e.Use(RequestLogger(cfg.Log))
	}

	// Add recovery
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			cfg.Log.Error().Err(err).Bytes("stack", stack).Str("path", c.Path()).Msg("handler panicked")
			return err
		},
	}))

	// Body limit middleware
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	// CORS configuration
	origins := strings.Split(cfg.AllowOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
}

// RequestLogger logs one line per request to log. Health checks and
// websocket upgrades are skipped.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasSuffix(path, "/ws")
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,

		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				evt = log.Error().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remoteIp", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}

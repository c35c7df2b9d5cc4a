package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/app"
	"github.com/charlesng35/accountd/internal/handlers"
	"github.com/charlesng35/accountd/internal/middleware"
	"github.com/charlesng35/accountd/internal/services"
)

// Deps bundles the services the router wires into handlers.
type Deps struct {
	DB           *gorm.DB
	Registration *services.RegistrationService
	Sessions     *services.SessionService
	Users        *services.UserService
	RateStore    middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(cfg *app.Config, deps Deps) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Registration == nil || deps.Sessions == nil || deps.Users == nil {
		return nil, fmt.Errorf("registration, session and user services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Client.BaseURL))
	r.Use(middleware.CSRF())

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	cookie := handlers.CookieSettings{
		Name:   cfg.Auth.Session.CookieName,
		Domain: cfg.Auth.Session.CookieDomain,
		Secure: cfg.Auth.Session.CookieSecure,
	}
	authHandler := handlers.NewAuthHandler(deps.Registration, deps.Sessions, deps.Users, cookie)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Sessions)

	// Public auth routes with throttling
	throttle := authThrottle(cfg, deps.RateStore)
	auth := r.Group("/api/v1/auth")
	auth.Use(throttle)
	{
		auth.POST("/signup", authHandler.Signup)
		auth.GET("/signup/verify", authHandler.SignupVerify)
		auth.POST("/signin", authHandler.Signin)
		auth.POST("/signout", authHandler.Signout)
	}

	// Protected routes
	requireSession := middleware.SessionAuth(deps.Sessions, authHandler.CookieName())

	apiGroup := r.Group("/api/v1")
	apiGroup.Use(requireSession)

	apiGroup.GET("/auth/me", authHandler.Me)

	users := apiGroup.Group("/users")
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)
	}

	return r, nil
}

func authThrottle(cfg *app.Config, store middleware.RateStore) gin.HandlerFunc {
	if !cfg.Auth.RateLimit.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	maxRequests := cfg.Auth.RateLimit.MaxRequests
	window := cfg.Auth.RateLimit.Window
	if maxRequests <= 0 {
		maxRequests = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return middleware.RateLimit(maxRequests, window, store)
}

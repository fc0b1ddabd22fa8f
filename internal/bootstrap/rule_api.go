package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"rule_server/adapter/in/http"
	"rule_server/config"
	"rule_server/infra/middleware"
	"rule_server/pkg/logger"
	"rule_server/pkg/ratelimit"
)

const maxRequestBody = 2 * 1024 * 1024

// NewAPI builds the Fiber app and the dependencies behind it.
func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return nil, nil, err
	}

	return NewApp(cfg, deps), cleanup, nil
}

// NewApp mounts middleware and routes on a new Fiber app.
func NewApp(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             maxRequestBody,
		ServerHeader:          "",
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" || allowOrigins == "*" {
		allowOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
		MaxAge:        86400,
	}))

	http.NewHealthHandler(map[string]http.HealthChecker{
		"postgres": deps.DB,
		"redis": http.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}),
		"mongodb": http.PingFunc(func(ctx context.Context) error {
			return deps.MongoDB.Ping(ctx, nil)
		}),
	}).Register(app)

	api := app.Group("/api/v1", middleware.RequireJSON(), middleware.MaxBodySize(maxRequestBody))
	limiter := ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.RateLimitPerMinute, time.Minute)
	users := api.Group("/users/:userID", middleware.ParseUserID("userID"), middleware.RateLimit(limiter))
	http.NewRulesHandler(deps.Runner).Register(users)

	return app
}

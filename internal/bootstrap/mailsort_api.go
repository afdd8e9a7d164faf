package bootstrap

import (
	"strings"

	"mailsort_server/adapter/in/http"
	"mailsort_server/config"
	"mailsort_server/infra/middleware"
	"mailsort_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP surface on top of an already wired dependency set.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json is markedly faster than encoding/json for our payloads
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 5 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if cfg.IsProduction() && (allowOrigins == "" || allowOrigins == "*") {
		allowOrigins = ""
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
		MaxAge:        86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	api := app.Group("/api/v1")

	monitorHandler := http.NewMonitorHandler(deps.Monitor, deps.ForwardingLogRepo, deps.MessageRepo)
	monitorHandler.Register(api)

	classifyHandler := http.NewClassifyHandler(deps.Cascade)
	classifyHandler.Register(api)

	logger.Info("API server initialized")

	return app
}

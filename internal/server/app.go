package server

import (
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/makeasinger/stemscore/internal/handler"
	"github.com/makeasinger/stemscore/internal/middleware"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/internal/service"
	ws "github.com/makeasinger/stemscore/internal/websocket"
	"github.com/makeasinger/stemscore/pkg/response"
)

// Deps are the components the HTTP surface is built from. Hub and
// RateLimiter are optional.
type Deps struct {
	Pipeline       *service.Pipeline
	Gateway        *results.Gateway
	Validator      *validator.Validate
	Hub            *ws.Hub
	Auth           *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	Health         *handler.HealthHandler
	ProcessPerHour int
	BodyLimitMB    int
	LogLevel       string
}

// New builds the Fiber app with every route mounted.
func New(d Deps) *fiber.App {
	bodyLimit := d.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 200
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             bodyLimit * 1024 * 1024,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(d.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})
	if d.Health != nil {
		app.Get("/health", d.Health.Health)
	}

	processHandler := handler.NewProcessHandler(d.Pipeline, d.Validator)
	resultsHandler := handler.NewResultsHandler(d.Gateway)

	auth := d.Auth
	if auth == nil {
		auth = middleware.NewAuthMiddleware("")
	}
	submit := []fiber.Handler{auth.Authenticate()}
	if d.RateLimiter != nil {
		submit = append(submit, d.RateLimiter.ProcessLimit(d.ProcessPerHour))
	}

	api := app.Group("/api")

	// Submission routes
	api.Post("/process", append(submit, processHandler.Process)...)
	api.Post("/jobs", append(submit, processHandler.Submit)...)
	api.Get("/jobs/:jobId", auth.Authenticate(), processHandler.Status)

	// Retrieval is keyed by the unguessable job id
	api.Get("/results/:jobId", resultsHandler.Get)

	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		hub := d.Hub
		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			hub.HandleConnection(c, c.Params("jobId"))
		}))
	}

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}

package handler

import (
	"context"
	"os/exec"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports whether the service's collaborators are usable
type HealthHandler struct {
	workerCommand string
	redis         *redis.Client
	mirror        bool
	auth          bool
}

func NewHealthHandler(workerCommand string, redisClient *redis.Client, mirror, auth bool) *HealthHandler {
	return &HealthHandler{
		workerCommand: workerCommand,
		redis:         redisClient,
		mirror:        mirror,
		auth:          auth,
	}
}

// Health handles GET /health. A missing worker binary degrades the status.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	_, lookErr := exec.LookPath(h.workerCommand)
	worker := lookErr == nil

	redisOK := false
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		redisOK = h.redis.Ping(ctx).Err() == nil
	}

	status := "ok"
	if !worker {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"worker": worker,
			"redis":  redisOK,
			"mirror": h.mirror,
			"auth":   h.auth,
		},
	})
}

package handler

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/pkg/response"
)

type ResultsHandler struct {
	gateway *results.Gateway
}

func NewResultsHandler(g *results.Gateway) *ResultsHandler {
	return &ResultsHandler{gateway: g}
}

// Get handles GET /api/results/:jobId?path=<relative path>
func (h *ResultsHandler) Get(c *fiber.Ctx) error {
	path, err := h.gateway.Resolve(c.Params("jobId"), c.Query(results.PathParam))
	if err != nil {
		return respondError(c, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return response.NotFound(c, "File not found")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return response.NotFound(c, "File not found")
	}

	name := filepath.Base(path)
	c.Set(fiber.HeaderContentType, results.ContentType(name))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s"`, url.PathEscape(name)))
	c.Set(fiber.HeaderCacheControl, "private, max-age=0")

	// fasthttp closes the file once the body has been written.
	return c.SendStream(f, int(info.Size()))
}

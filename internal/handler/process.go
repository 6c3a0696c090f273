package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/stemscore/internal/model"
	"github.com/makeasinger/stemscore/internal/service"
	"github.com/makeasinger/stemscore/pkg/response"
)

type ProcessHandler struct {
	pipeline  *service.Pipeline
	validator *validator.Validate
}

func NewProcessHandler(p *service.Pipeline, v *validator.Validate) *ProcessHandler {
	return &ProcessHandler{
		pipeline:  p,
		validator: v,
	}
}

// Process handles POST /api/process
func (h *ProcessHandler) Process(c *fiber.Ctx) error {
	src, closeSrc, err := h.readSource(c)
	if err != nil {
		return respondError(c, err)
	}
	defer closeSrc()

	result, err := h.pipeline.Process(c.UserContext(), src)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Submit handles POST /api/jobs
func (h *ProcessHandler) Submit(c *fiber.Ctx) error {
	src, closeSrc, err := h.readSource(c)
	if err != nil {
		return respondError(c, err)
	}
	defer closeSrc()

	result, err := h.pipeline.Submit(c.UserContext(), src)
	if err != nil {
		return respondError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *ProcessHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	record, err := h.pipeline.Status(c.UserContext(), jobID)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, record)
}

// formError is a rejected submission form.
type formError struct {
	message string
	details interface{}
}

func (e *formError) Error() string {
	return e.message
}

// readSource builds a Source from the multipart form. sourceType defaults
// to upload; a field belonging to the other variant is rejected.
func (h *ProcessHandler) readSource(c *fiber.Ctx) (model.Source, func(), error) {
	noop := func() {}

	form := model.SubmitForm{
		SourceType: model.SourceType(strings.TrimSpace(c.FormValue("sourceType"))),
		YoutubeURL: strings.TrimSpace(c.FormValue("youtubeUrl")),
	}
	if form.SourceType == "" {
		form.SourceType = model.SourceUpload
	}

	if err := h.validator.Struct(&form); err != nil {
		return model.Source{}, noop, &formError{message: "Validation failed", details: formatValidationErrors(err)}
	}

	// Exactly one variant per submission.
	fh, fileErr := c.FormFile("file")
	if form.SourceType == model.SourceYouTube {
		if fileErr == nil && fh != nil {
			return model.Source{}, noop, &formError{message: "A youtube submission must not carry a file", details: map[string]string{"file": "excluded_with youtubeUrl"}}
		}
		return model.Source{Type: model.SourceYouTube, URL: form.YoutubeURL}, noop, nil
	}
	if form.YoutubeURL != "" {
		return model.Source{}, noop, &formError{message: "An upload submission must not carry a youtubeUrl", details: map[string]string{"youtubeUrl": "excluded_with file"}}
	}

	if fileErr != nil || fh == nil {
		return model.Source{}, noop, &formError{message: "No file provided", details: map[string]string{"file": "required"}}
	}
	f, err := fh.Open()
	if err != nil {
		return model.Source{}, noop, &formError{message: "Unreadable file"}
	}

	src := model.Source{
		Type:     model.SourceUpload,
		Upload:   f,
		Filename: fh.Filename,
	}
	return src, func() { f.Close() }, nil
}

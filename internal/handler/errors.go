package handler

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/stemscore/internal/acquire"
	"github.com/makeasinger/stemscore/internal/analyzer"
	"github.com/makeasinger/stemscore/internal/archive"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/internal/service"
	"github.com/makeasinger/stemscore/internal/workspace"
	"github.com/makeasinger/stemscore/pkg/response"
)

// respondError maps a pipeline or gateway error to its HTTP envelope.
// Client errors carry a safe message; server errors add the raw text.
func respondError(c *fiber.Ctx, err error) error {
	var (
		fetchErr    *acquire.FetchError
		writeErr    *acquire.WriteError
		storageErr  *workspace.StorageError
		execErr     *analyzer.ExecutionError
		contractErr *analyzer.ContractError
		archiveErr  *archive.Error
		formErr     *formError
	)

	switch {
	case errors.As(err, &formErr):
		return response.ValidationError(c, formErr.message, formErr.details)
	case errors.Is(err, results.ErrMissingPath):
		return response.InvalidPath(c, "Missing path parameter")
	case errors.Is(err, results.ErrInvalidPath):
		return response.InvalidPath(c, "Invalid path")
	case errors.Is(err, results.ErrNotFound):
		return response.NotFound(c, "File not found")
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")

	case errors.Is(err, service.ErrInvalidSource):
		return response.ValidationError(c, "Invalid source", err.Error())
	case errors.Is(err, acquire.ErrSourceNotAllowed):
		return response.ValidationError(c, "Remote source is not allowed", nil)
	case errors.Is(err, acquire.ErrUnsupportedMedia):
		return response.ValidationError(c, "Uploaded file is not audio", nil)

	case errors.As(err, &fetchErr), errors.As(err, &writeErr), errors.As(err, &storageErr):
		log.Printf("Acquisition failed: %v", err)
		return response.Internal(c, response.CodeAcquireFailed, "Failed to acquire input", err.Error())
	case errors.As(err, &execErr):
		log.Printf("Worker failed: %v", err)
		return response.Internal(c, response.CodeWorkerFailed, "Audio processing failed", err.Error())
	case errors.As(err, &contractErr):
		log.Printf("Worker contract violation: %v", err)
		return response.Internal(c, response.CodeWorkerFailed, "Audio processing returned an invalid result", err.Error())
	case errors.As(err, &archiveErr):
		log.Printf("Archiving failed: %v", err)
		return response.Internal(c, response.CodeArchiveFailed, "Failed to archive results", err.Error())
	}

	log.Printf("Unhandled error: %v", err)
	return response.ServiceError(c, "Internal server error")
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

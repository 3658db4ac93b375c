package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/discovery-console/internal/actions"
	"github.com/aegisshield/discovery-console/internal/batch"
	"github.com/aegisshield/discovery-console/internal/client"
	"github.com/aegisshield/discovery-console/internal/deletion"
	"github.com/aegisshield/discovery-console/internal/upload"
)

// validationErrors are rejected before any backend call
var validationErrors = []error{
	upload.ErrFileCount,
	upload.ErrDuplicateFiles,
	upload.ErrNoFile,
	deletion.ErrConfirmationMismatch,
	deletion.ErrNoItems,
	batch.ErrNoItems,
	batch.ErrInvalidReportLevel,
	actions.ErrMissingAnalysisID,
	actions.ErrInvalidID,
	actions.ErrValidation,
}

// statusFor maps an error to the HTTP status and message returned to callers.
// Backend 404s pass through; any other backend failure is a bad gateway.
func statusFor(err error) (int, string) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, err.Error()
		}
	}
	if errors.Is(err, batch.ErrJobActive) {
		return http.StatusConflict, err.Error()
	}

	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.NotFound() {
			return http.StatusNotFound, apiErr.Detail
		}
		return http.StatusBadGateway, apiErr.Detail
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "backend request timed out"
	default:
		return http.StatusBadGateway, err.Error()
	}
}

func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/huynh-missingcorner/media-studio-app/internal/history"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
	"github.com/huynh-missingcorner/media-studio-app/internal/model"
	"github.com/huynh-missingcorner/media-studio-app/internal/reference"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/settings"
)

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"data":     data,
		"trace_id": traceIDFromContext(c),
	})
}

func writeError(c *gin.Context, status int, code, message string, retryable bool, details map[string]any) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Details:   details,
		},
		"trace_id": traceIDFromContext(c),
	})
}

func writeUnauthorized(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", false, nil)
}

func writeBadRequest(c *gin.Context, message string) {
	writeError(c, http.StatusBadRequest, "BAD_REQUEST", message, false, nil)
}

// writeServiceError maps domain and upstream errors onto the error envelope.
func writeServiceError(c *gin.Context, err error) {
	var apiErr *mediaapi.Error
	switch {
	case errors.Is(err, session.ErrNoProject),
		errors.Is(err, session.ErrPromptTooShort),
		errors.Is(err, session.ErrInvalidUpscaleFactor),
		errors.Is(err, session.ErrMissingUpscaleSource):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), false, nil)
	case errors.Is(err, model.ErrUnsupportedMediaType):
		writeError(c, http.StatusBadRequest, "UNSUPPORTED_MEDIA_TYPE", err.Error(), false, nil)
	case errors.Is(err, settings.ErrPatchMismatch),
		errors.Is(err, reference.ErrInvalidType),
		errors.Is(err, reference.ErrInvalidDataURL):
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error(), false, nil)
	case errors.Is(err, reference.ErrReferenceNotFound),
		errors.Is(err, reference.ErrImageNotFound):
		writeError(c, http.StatusNotFound, "REFERENCE_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, history.ErrMediaNotFound):
		writeError(c, http.StatusNotFound, "MEDIA_NOT_FOUND", "Media item not found", false, nil)
	case errors.Is(err, session.ErrSuperseded):
		writeError(c, http.StatusConflict, "SUPERSEDED", "Generation was replaced by a newer request", false, nil)
	case errors.Is(err, session.ErrGenerationFailed), errors.Is(err, session.ErrPollTimeout):
		writeError(c, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, nil)
	case errors.Is(err, reference.ErrUploadIncomplete):
		writeError(c, http.StatusBadGateway, "UPLOAD_INCOMPLETE", err.Error(), true, nil)
	case errors.As(err, &apiErr):
		status := apiErr.Status
		switch {
		case status == 0 || status >= 500:
			status = http.StatusBadGateway
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
		case status < 400:
			status = http.StatusBadGateway
		}
		writeError(c, status, apiErr.Code, apiErr.Message, apiErr.Retryable, map[string]any{"upstream_status": apiErr.Status})
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Internal server error", true, nil)
	}
}

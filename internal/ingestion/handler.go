package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	v1 "github.com/keyline-lab/keyline/internal/api/v1"
	httperr "github.com/keyline-lab/keyline/internal/core/errors"
	"github.com/keyline-lab/keyline/internal/engine"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgUnknownStream   = "Unknown stream"
	msgPipelineStopped = "Pipeline is not running"
)

// ingestionError carries the structured HTTP error shape from a helper back to
// the handler. Helpers return this instead of writing to gin.Context directly,
// keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for value batches.
func (s *Service) IngestHandler(c *gin.Context) {
	batch, payloadSize, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	p, ok := s.pipeline(batch.Stream)
	if !ok {
		writeError(c, &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpUnknownStreamError,
			message:    msgUnknownStream,
		})
		return
	}

	slog.Info("Received batch",
		"stream", batch.Stream,
		"window_id", batch.WindowID,
		"keys", len(batch.Values),
		"payload_size", payloadSize)

	if err := p.Ingest(c.Request.Context(), batch.WindowID, batch.Values); err != nil {
		writeError(c, pipelineError(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// CloseWindowHandler ends a window: the pipeline merges all partition partials
// and flushes the finalized mapping to the sink.
func (s *Service) CloseWindowHandler(c *gin.Context) {
	s.windowControl(c, func(p *engine.Pipeline, windowID uint64) error {
		return p.CloseWindow(c.Request.Context(), windowID)
	}, "closing")
}

// AbortWindowHandler discards a window without emitting anything.
func (s *Service) AbortWindowHandler(c *gin.Context) {
	s.windowControl(c, func(p *engine.Pipeline, windowID uint64) error {
		return p.AbortWindow(c.Request.Context(), windowID)
	}, "aborting")
}

func (s *Service) windowControl(c *gin.Context, apply func(*engine.Pipeline, uint64) error, verb string) {
	stream := c.Param("stream")
	p, ok := s.pipeline(stream)
	if !ok {
		writeError(c, &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpUnknownStreamError,
			message:    msgUnknownStream,
		})
		return
	}

	windowID, err := strconv.ParseUint(c.Param("window_id"), 10, 64)
	if err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "window_id must be an unsigned integer",
		})
		return
	}

	slog.Info("Window control", "stream", stream, "window_id", windowID, "action", verb)

	if err := apply(p, windowID); err != nil {
		writeError(c, pipelineError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseBatch reads the raw request body and binds it into a ValueBatch.
// Returns the parsed batch and the raw payload size (for structured logging).
func (s *Service) parseBatch(c *gin.Context) (*v1.ValueBatch, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var batch v1.ValueBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if err := batch.Validate(); err != nil {
		slog.Warn("Batch validation failed", "error", err)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    err.Error(),
		}
	}

	return &batch, len(bodyBytes), nil
}

// pipelineError maps engine errors onto the HTTP error shape.
func pipelineError(err error) *ingestionError {
	switch {
	case errors.Is(err, engine.ErrWindowOrder):
		return &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpWindowOrderError,
			message:    err.Error(),
		}
	case errors.Is(err, engine.ErrStopped):
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpPipelineStopped,
			message:    msgPipelineStopped,
		}
	default:
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    err.Error(),
		}
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}

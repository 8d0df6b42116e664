package ingestion

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/aevon-lab/aevon-profiler/internal/aggregation"
	v1 "github.com/aevon-lab/aevon-profiler/internal/api/v1"
	httperr "github.com/aevon-lab/aevon-profiler/internal/core/errors"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed   = "Failed to read request body"
	msgInvalidJSON      = "Invalid JSON body"
	msgEvaluationFailed = "One or more messages failed profile evaluation"
	msgStopped          = "Profiler is shutting down"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// messageError reports why one message of a batch failed.
type messageError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// IngestHandler handles HTTP POST requests carrying one message or an array of them.
func (s *Service) IngestHandler(c *gin.Context) {
	msgs, err := s.parseMessages(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.processMessages(c, msgs); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "messages": len(msgs)})
}

// parseMessages reads the bounded request body and decodes it.
func (s *Service) parseMessages(c *gin.Context) ([]v1.Message, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	msgs, err := v1.DecodeMessages(bodyBytes)
	if err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
			details:    err.Error(),
		}
	}
	return msgs, nil
}

// processMessages applies every message in order. A failing message does not
// stop the ones after it.
func (s *Service) processMessages(c *gin.Context, msgs []v1.Message) *ingestionError {
	var failed []messageError
	for i, msg := range msgs {
		err := s.processor.Process(c.Request.Context(), msg)
		if err == nil {
			continue
		}
		if errors.Is(err, aggregation.ErrStopped) {
			return &ingestionError{
				statusCode: http.StatusServiceUnavailable,
				errorType:  httperr.HttpUnavailableError,
				message:    msgStopped,
			}
		}
		slog.Warn("[Ingestion] Message evaluation failed", "index", i, "error", err)
		failed = append(failed, messageError{Index: i, Error: err.Error()})
	}
	if len(failed) == 0 {
		return nil
	}
	return &ingestionError{
		statusCode: http.StatusUnprocessableEntity,
		errorType:  httperr.HttpEvaluationError,
		message:    msgEvaluationFailed,
		details: map[string]interface{}{
			"messages": len(msgs),
			"failed":   failed,
		},
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

package errors

const (
	HttpInternalError        = "internal_error"
	HttpInvalidJsonError     = "invalid_json"
	HttpInvalidQueryError    = "invalid_query"
	HttpNotFoundError        = "not_found"
	HttpEvaluationError      = "evaluation_failed"
	HttpPayloadTooLargeError = "payload_too_large"
	HttpUnavailableError     = "unavailable"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

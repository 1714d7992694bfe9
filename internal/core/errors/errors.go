package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpUnknownStreamError  = "unknown_stream"
	HttpMalformedValueError = "malformed_value"
	HttpWindowOrderError    = "window_order_violation"
	HttpPipelineStopped     = "pipeline_stopped"
)

// ErrorResponse is the error response body for ingestion and control errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

package errors

const (
	HttpInternalError          = "internal_error"
	HttpInvalidJsonError       = "invalid_json"
	HttpInvalidQueryError      = "invalid_query"
	HttpNoPendingVerification  = "no_pending_verification"
	HttpUnknownCandidateError  = "unknown_candidate"
	HttpSourceUnavailableError = "source_unavailable"
	HttpVerificationRequired   = "verification_required"
)

// ErrorResponse is the error body returned by every HTTP handler.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

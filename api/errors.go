package api

import (
	"log/slog"
	"net/http"
)

// ErrorKey is a type alias for string, used to reference a specific
// standardized error message in the errorMessages map.
type ErrorKey string

// These constants define unique keys for each error variant.
// Several keys may share one HTTP status code.
const (
	ErrInvalidJSON      ErrorKey = "invalid_json"
	ErrValidation       ErrorKey = "validation_failed"
	ErrNotFound         ErrorKey = "not_found"
	ErrInternal         ErrorKey = "internal_error"
	ErrCredentials      ErrorKey = "invalid_credentials"
	ErrAuthRequired     ErrorKey = "auth_required"
	ErrInvalidToken     ErrorKey = "invalid_token"
	ErrAccessDenied     ErrorKey = "access_denied"
	ErrConflict         ErrorKey = "conflict"
	ErrInvalidOTP       ErrorKey = "invalid_otp"
	ErrSignature        ErrorKey = "signature_mismatch"
	ErrMethodNotAllowed ErrorKey = "not_allowed"
)

var errorMessages = map[ErrorKey]string{
	ErrInvalidJSON:      "invalid JSON format",
	ErrValidation:       "validation failed",
	ErrNotFound:         "resource not found",
	ErrInternal:         "internal server error",
	ErrCredentials:      "invalid credentials",
	ErrAuthRequired:     "authentication required",
	ErrInvalidToken:     "invalid token",
	ErrAccessDenied:     "access denied",
	ErrConflict:         "resource conflict",
	ErrInvalidOTP:       "invalid or expired OTP",
	ErrSignature:        "payment signature mismatch",
	ErrMethodNotAllowed: "method not allowed",
}

// ErrorResponse is the JSON body the backend sends with a failed request.
// Error is the short summary; Message is the human readable text the client
// shows when present. Older endpoints only fill one of the two.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text returns the most useful human readable part of the response.
func (e ErrorResponse) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// NewError creates an ErrorResponse for a given HTTP status, error key, and message.
// Unknown keys fall back to "unknown error".
func NewError(status int, key ErrorKey, message string) (int, ErrorResponse) {
	msg, ok := errorMessages[key]
	if !ok {
		msg = "unknown error"
	}
	return status, ErrorResponse{
		Error:   msg,
		Message: message,
	}
}

func BadRequestInvalidJSON() (int, ErrorResponse) {
	return NewError(http.StatusBadRequest, ErrInvalidJSON, "expected valid JSON object")
}

func BadRequestValidation(message string) (int, ErrorResponse) {
	return NewError(http.StatusBadRequest, ErrValidation, message)
}

func NotFound(message string) (int, ErrorResponse) {
	return NewError(http.StatusNotFound, ErrNotFound, message)
}

// InternalServerError carries no message on purpose; clients fall back to their generic text.
func InternalServerError() (int, ErrorResponse) {
	return NewError(http.StatusInternalServerError, ErrInternal, "")
}

func MethodNotAllowed() (int, ErrorResponse) {
	return NewError(http.StatusMethodNotAllowed, ErrMethodNotAllowed, "")
}

// UnauthorizedInvalidCredentials returns a 401 error indicating incorrect login credentials.
func UnauthorizedInvalidCredentials() (int, ErrorResponse) {
	return NewError(http.StatusUnauthorized, ErrCredentials, "email or password is incorrect")
}

// UnauthorizedMissingToken returns a 401 error for requests without a bearer token.
func UnauthorizedMissingToken() (int, ErrorResponse) {
	return NewError(http.StatusUnauthorized, ErrAuthRequired, "please sign in to continue")
}

// UnauthorizedInvalidToken returns a 401 error indicating that the provided token is invalid or expired.
func UnauthorizedInvalidToken() (int, ErrorResponse) {
	return NewError(http.StatusUnauthorized, ErrInvalidToken, "token is expired or malformed")
}

// ForbiddenAccessDenied returns a 403 error indicating insufficient permissions for the requested operation.
func ForbiddenAccessDenied() (int, ErrorResponse) {
	return NewError(http.StatusForbidden, ErrAccessDenied, "insufficient permissions for this operation")
}

// ResourceConflict returns a 409 error indicating a conflict, such as duplicate resource creation.
func ResourceConflict(message string) (int, ErrorResponse) {
	return NewError(http.StatusConflict, ErrConflict, message)
}

func BadRequestInvalidOTP() (int, ErrorResponse) {
	return NewError(http.StatusBadRequest, ErrInvalidOTP, "the code is invalid or has expired")
}

func BadRequestSignature() (int, ErrorResponse) {
	return NewError(http.StatusBadRequest, ErrSignature, "payment could not be verified")
}

// ReturnError accepts a function returning (int, ErrorResponse)
// calls it, and passes the result to RespondJSONAndLog with the given writer and logger.
func ReturnError(w http.ResponseWriter, logger *slog.Logger, errorFunc func() (int, ErrorResponse)) {
	status, errResp := errorFunc()
	RespondJSONAndLog(w, logger, status, errResp)
}

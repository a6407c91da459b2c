package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/event-companion/backend/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// AUTH_ - Admin token errors on mutating diagnostics routes
	ErrAuthMissing ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid ErrorCode = "AUTH_INVALID"

	// CACHE_ - Cache engine errors
	ErrCacheKeyNotFound ErrorCode = "CACHE_KEY_NOT_FOUND"
	ErrCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	ErrCacheClearFailed ErrorCode = "CACHE_CLEAR_FAILED"

	// SYNC_ - Background sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline    ErrorCode = "SYNC_OFFLINE"
	ErrSyncDisposed   ErrorCode = "SYNC_DISPOSED"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"

	// VALIDATION_ - Request validation errors
	ErrValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue ErrorCode = "VALIDATION_INVALID_VALUE"

	// RESOURCE_ - Routing errors
	ErrResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimited ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// AuthMissing creates an authentication missing error
func AuthMissing() *Error {
	return New(ErrAuthMissing, "Admin token required", http.StatusUnauthorized)
}

// AuthInvalid creates an invalid authentication error
func AuthInvalid() *Error {
	return New(ErrAuthInvalid, "Invalid admin token", http.StatusUnauthorized)
}

// CacheKeyNotFound reports a key with no cache entry.
func CacheKeyNotFound(key string) *Error {
	return New(ErrCacheKeyNotFound, "No cache entry for key", http.StatusNotFound).
		WithDetails(map[string]interface{}{"key": key})
}

// CacheUnavailable reports that the persistent store could not be read.
func CacheUnavailable() *Error {
	return New(ErrCacheUnavailable, "Cache storage is unavailable", http.StatusServiceUnavailable)
}

// CacheClearFailed reports a failed clear.
func CacheClearFailed() *Error {
	return New(ErrCacheClearFailed, "Failed to clear the cache", http.StatusInternalServerError)
}

// SyncInProgress reports a sync request dropped because one is running.
func SyncInProgress() *Error {
	return New(ErrSyncInProgress, "A sync is already running", http.StatusConflict)
}

// SyncOffline reports a sync request made without connectivity.
func SyncOffline() *Error {
	return New(ErrSyncOffline, "Device is offline", http.StatusServiceUnavailable)
}

// SyncDisposed reports a sync request after shutdown began.
func SyncDisposed() *Error {
	return New(ErrSyncDisposed, "Sync coordinator has been shut down", http.StatusServiceUnavailable)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	if message == "" {
		message = "Service unavailable"
	}
	return New(ErrSystemUnavailable, message, http.StatusServiceUnavailable)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ResourceNotFound creates a not found error
func ResourceNotFound(resourceType string) *Error {
	return New(ErrResourceNotFound, resourceType+" not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"resource_type": resourceType})
}

// RateLimited creates a rate limit error
func RateLimited() *Error {
	return New(ErrRateLimited, "Too many requests, slow down", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}

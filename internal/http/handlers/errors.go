package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

// Error codes. Generic codes mirror HTTP semantics; the rest name a
// business rule the client may want to explain to the user.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	ErrCodeInvalidKind        = "invalid_kind"
	ErrCodeKindDisabled       = "kind_disabled"
	ErrCodeQuotaExceeded      = "quota_exceeded"
	ErrCodeRequestActive      = "request_active"
	ErrCodeNoActiveRequest    = "no_active_request"
	ErrCodeStorageUnavailable = "storage_unavailable"
)

// serviceError maps a service sentinel to its status and code. Unknown
// errors become 500 internal_error.
func serviceError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidKind):
		return http.StatusBadRequest, ErrCodeInvalidKind
	case errors.Is(err, services.ErrKindDisabled):
		return http.StatusForbidden, ErrCodeKindDisabled
	case errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusConflict, ErrCodeQuotaExceeded
	case errors.Is(err, services.ErrRequestActive):
		return http.StatusConflict, ErrCodeRequestActive
	case errors.Is(err, services.ErrNoActiveRequest):
		return http.StatusNotFound, ErrCodeNoActiveRequest
	case errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrInvalidGuests),
		errors.Is(err, services.ErrEmptyStore),
		errors.Is(err, services.ErrEmptyStaff):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, ErrCodeStorageUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// failService writes err as an ErrorResponse. For 5xx the wrapped detail is
// logged and the client only sees the sentinel's text.
func failService(c *gin.Context, err error) {
	status, code := serviceError(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		middleware.LoggerFrom(c).Warn().Err(err).Msg("storage failure")
		msg = services.ErrStorageUnavailable.Error()
	case http.StatusInternalServerError:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unexpected service error")
		msg = "internal server error"
	}
	fail(c, status, code, msg)
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/tbourn/go-dispatch-backend/internal/services"
)

func TestServiceError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrInvalidKind, http.StatusBadRequest, ErrCodeInvalidKind},
		{services.ErrKindDisabled, http.StatusForbidden, ErrCodeKindDisabled},
		{services.ErrQuotaExceeded, http.StatusConflict, ErrCodeQuotaExceeded},
		{services.ErrRequestActive, http.StatusConflict, ErrCodeRequestActive},
		{services.ErrNoActiveRequest, http.StatusNotFound, ErrCodeNoActiveRequest},
		{services.ErrRequestNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrInvalidGuests, http.StatusBadRequest, ErrCodeBadRequest},
		{fmt.Errorf("%w: disk I/O error", services.ErrStorageUnavailable), http.StatusServiceUnavailable, ErrCodeStorageUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		status, code := serviceError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("%v -> (%d, %s), want (%d, %s)", tc.err, status, code, tc.status, tc.code)
		}
	}
}

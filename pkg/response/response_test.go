package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	customError "github.com/segyhp/funds-engine/pkg/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{customError.WrapInvalidAmount("-1"), http.StatusBadRequest},
		{customError.WrapSameAccount("A"), http.StatusBadRequest},
		{customError.WrapFutureCycleDate("2024-04-01", "2024-03-05"), http.StatusBadRequest},
		{customError.WrapDestinationNotVerified("B", "PENDING"), http.StatusUnprocessableEntity},
		{customError.WrapAccountNotFound("A"), http.StatusNotFound},
		{customError.WrapLoanNotFound("L"), http.StatusNotFound},
		{customError.WrapOperationInProgress("k"), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", customError.WrapUnavailable(errors.New("down"))), http.StatusServiceUnavailable},
		{customError.WrapDatabaseError(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestFromError_PlainErrorHidesDetail(t *testing.T) {
	w := httptest.NewRecorder()
	FromError(w, errors.New("dial tcp 10.0.0.1:5432"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
}

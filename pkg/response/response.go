package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	customError "github.com/segyhp/funds-engine/pkg/errors"
)

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorResponse struct {
	Success   bool      `json:"success"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a created JSON response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success:   false,
		Code:      customError.CodeOf(err),
		Message:   message,
		Timestamp: time.Now(),
	}

	if err != nil {
		response.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		zap.L().Warn("failed to encode error response", zap.Error(encodeErr))
	}
}

// BadRequest sends a 400 bad request response
func BadRequest(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusBadRequest, message, err)
}

// StatusFor maps a business error code to an HTTP status.
func StatusFor(err error) int {
	switch customError.CodeOf(err) {
	case customError.ErrCodeInvalidAmount, customError.ErrCodeSameAccount, customError.ErrCodeFutureCycleDate:
		return http.StatusBadRequest
	case customError.ErrCodeDestinationNotVerified, customError.ErrCodeLoanNotActive,
		customError.ErrCodeInvalidInstallmentAmount:
		return http.StatusUnprocessableEntity
	case customError.ErrCodeAccountNotFound, customError.ErrCodeLoanNotFound,
		customError.ErrCodeScheduledPaymentNotFound:
		return http.StatusNotFound
	case customError.ErrCodeOperationInProgress, customError.ErrCodeLockContention:
		return http.StatusConflict
	case customError.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes err with the status its business code maps to. Internal
// failures are reported without their cause.
func FromError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	var be *customError.BusinessError
	if !errors.As(err, &be) {
		Error(w, status, "internal error", nil)
		return
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		Error(w, status, be.Message, customError.NewBusinessError(be.Code, be.Message, nil))
		return
	}
	Error(w, status, be.Message, be)
}

// CORSMiddleware adds CORS headers
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrSameAccount              = errors.New("source and destination accounts are the same")
	ErrAccountNotFound          = errors.New("account not found")
	ErrDestinationNotVerified   = errors.New("destination account is not verified")
	ErrOperationInProgress      = errors.New("operation in progress")
	ErrLockContention           = errors.New("obligation is being processed by another worker")
	ErrUnavailable              = errors.New("service temporarily unavailable")
	ErrInvalidInstallmentAmount = errors.New("invalid installment amount")
	ErrLoanNotFound             = errors.New("loan not found")
	ErrLoanNotActive            = errors.New("loan is not active")
	ErrScheduledPaymentNotFound = errors.New("scheduled payment not found")
	ErrIntegrityFault           = errors.New("data integrity fault")
	ErrFutureCycleDate          = errors.New("cycle date is in the future")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidAmount            = "INVALID_AMOUNT"
	ErrCodeSameAccount              = "SAME_ACCOUNT"
	ErrCodeAccountNotFound          = "ACCOUNT_NOT_FOUND"
	ErrCodeDestinationNotVerified   = "DESTINATION_NOT_VERIFIED"
	ErrCodeOperationInProgress      = "OPERATION_IN_PROGRESS"
	ErrCodeLockContention           = "LOCK_CONTENTION"
	ErrCodeUnavailable              = "UNAVAILABLE"
	ErrCodeInvalidInstallmentAmount = "INVALID_INSTALLMENT_AMOUNT"
	ErrCodeLoanNotFound             = "LOAN_NOT_FOUND"
	ErrCodeLoanNotActive            = "LOAN_NOT_ACTIVE"
	ErrCodeScheduledPaymentNotFound = "SCHEDULED_PAYMENT_NOT_FOUND"
	ErrCodeIntegrityFault           = "INTEGRITY_FAULT"
	ErrCodeDatabaseError            = "DATABASE_ERROR"
	ErrCodeCacheError               = "CACHE_ERROR"
	ErrCodeFutureCycleDate          = "FUTURE_CYCLE_DATE"
)

// CodeOf returns the business code carried by err, or "" when there is none.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func WrapInvalidAmount(amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidAmount,
		fmt.Sprintf("Amount %s must be greater than zero with at most 2 decimal places", amount),
		ErrInvalidAmount,
	)
}

func WrapSameAccount(accountNumber string) *BusinessError {
	return NewBusinessError(
		ErrCodeSameAccount,
		fmt.Sprintf("Cannot transfer from account %s to itself", accountNumber),
		ErrSameAccount,
	)
}

func WrapAccountNotFound(accountNumber string) *BusinessError {
	return NewBusinessError(
		ErrCodeAccountNotFound,
		fmt.Sprintf("Account %s not found", accountNumber),
		ErrAccountNotFound,
	)
}

func WrapDestinationNotVerified(accountNumber, status string) *BusinessError {
	return NewBusinessError(
		ErrCodeDestinationNotVerified,
		fmt.Sprintf("Destination account %s has verification status %s", accountNumber, status),
		ErrDestinationNotVerified,
	)
}

func WrapOperationInProgress(key string) *BusinessError {
	return NewBusinessError(
		ErrCodeOperationInProgress,
		fmt.Sprintf("Request with idempotency key %s is still being processed, retry later", key),
		ErrOperationInProgress,
	)
}

func WrapLockContention(key string) *BusinessError {
	return NewBusinessError(
		ErrCodeLockContention,
		fmt.Sprintf("Obligation %s is locked by another worker", key),
		ErrLockContention,
	)
}

func WrapUnavailable(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeUnavailable,
		"Dependency temporarily unavailable, retry later",
		errors.Join(ErrUnavailable, err),
	)
}

func WrapInvalidInstallmentAmount(loanID, amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidInstallmentAmount,
		fmt.Sprintf("Loan %s has invalid installment amount %q", loanID, amount),
		ErrInvalidInstallmentAmount,
	)
}

func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapLoanNotActive(loanID, status string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotActive,
		fmt.Sprintf("Loan with ID %s is %s", loanID, status),
		ErrLoanNotActive,
	)
}

func WrapScheduledPaymentNotFound(paymentID string) *BusinessError {
	return NewBusinessError(
		ErrCodeScheduledPaymentNotFound,
		fmt.Sprintf("Scheduled payment %s not found", paymentID),
		ErrScheduledPaymentNotFound,
	)
}

func WrapIntegrityFault(kind, id, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeIntegrityFault,
		fmt.Sprintf("%s %s: %s", kind, id, reason),
		ErrIntegrityFault,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}

func WrapFutureCycleDate(date, today string) *BusinessError {
	return NewBusinessError(
		ErrCodeFutureCycleDate,
		fmt.Sprintf("Cannot run the cycle for %s, today is %s", date, today),
		ErrFutureCycleDate,
	)
}

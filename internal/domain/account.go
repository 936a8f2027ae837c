package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VerificationStatus is the KYC state of an account.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "PENDING"
	VerificationVerified  VerificationStatus = "VERIFIED"
	VerificationRejected  VerificationStatus = "REJECTED"
	VerificationSuspended VerificationStatus = "SUSPENDED"
	VerificationFrozen    VerificationStatus = "FROZEN"
	VerificationDisabled  VerificationStatus = "DISABLED"
)

// Account represents a customer account holding a balance
type Account struct {
	AccountNumber      string             `json:"account_number" db:"account_number"`
	OwnerID            uuid.UUID          `json:"owner_id" db:"owner_id"`
	Balance            decimal.Decimal    `json:"balance" db:"balance"`
	OverdraftEnabled   bool               `json:"overdraft_enabled" db:"overdraft_enabled"`
	OverdraftLimit     decimal.Decimal    `json:"overdraft_limit" db:"overdraft_limit"`
	OverdraftUsed      decimal.Decimal    `json:"overdraft_used" db:"overdraft_used"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// IsVerified reports whether the account may receive funds.
func (a *Account) IsVerified() bool {
	return a.VerificationStatus == VerificationVerified
}

// OverdraftHeadroom is the unused part of the overdraft limit, zero when overdraft is disabled.
func (a *Account) OverdraftHeadroom() decimal.Decimal {
	if !a.OverdraftEnabled {
		return decimal.Zero
	}
	headroom := a.OverdraftLimit.Sub(a.OverdraftUsed)
	if headroom.IsNegative() {
		return decimal.Zero
	}
	return headroom
}

// AvailableFunds returns balance plus overdraft headroom.
func (a *Account) AvailableFunds() decimal.Decimal {
	return a.Balance.Add(a.OverdraftHeadroom())
}

// Debit takes amount from the balance first and from overdraft headroom for the
// remainder. It returns false and leaves the account untouched when funds are short.
func (a *Account) Debit(amount decimal.Decimal) bool {
	if a.AvailableFunds().LessThan(amount) {
		return false
	}

	fromBalance := decimal.Min(amount, decimal.Max(a.Balance, decimal.Zero))
	a.Balance = a.Balance.Sub(fromBalance)

	if shortfall := amount.Sub(fromBalance); shortfall.IsPositive() {
		a.OverdraftUsed = a.OverdraftUsed.Add(shortfall)
	}
	return true
}

// Credit adds amount to the balance. Used overdraft is repaid separately.
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
}

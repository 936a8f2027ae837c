package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/funds-engine/pkg/utils"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "PENDING"
	LoanStatusApproved  LoanStatus = "APPROVED"
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusFullyPaid LoanStatus = "FULLY_PAID"
	LoanStatusClosed    LoanStatus = "CLOSED"
	LoanStatusRejected  LoanStatus = "REJECTED"
)

// Penalty tiers applied to the current due date of a loan.
const (
	PenaltyTierNone   = 0
	PenaltyTierLate   = 1
	PenaltyTierMissed = 2
)

// Loan represents a loan in active repayment
type Loan struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	BorrowerID         uuid.UUID       `json:"borrower_id" db:"borrower_id"`
	AccountNumber      string          `json:"account_number" db:"account_number"`
	Principal          decimal.Decimal `json:"principal" db:"principal"`
	InterestRate       decimal.Decimal `json:"interest_rate" db:"interest_rate"` // annual, percent
	TenureMonths       int             `json:"tenure_months" db:"tenure_months"`
	EMIAmount          decimal.Decimal `json:"emi_amount" db:"emi_amount"`
	InstallmentsPaid   int             `json:"installments_paid" db:"installments_paid"`
	MissedInstallments int             `json:"missed_installments" db:"missed_installments"`
	RemainingPrincipal decimal.Decimal `json:"remaining_principal" db:"remaining_principal"`
	NextDueDate        *time.Time      `json:"next_due_date,omitempty" db:"next_due_date"`
	DayOfMonth         int             `json:"day_of_month" db:"day_of_month"`
	AutoDebitEnabled   bool            `json:"auto_debit_enabled" db:"auto_debit_enabled"`
	LastPaidDate       *time.Time      `json:"last_paid_date,omitempty" db:"last_paid_date"`
	PenaltyTier        int             `json:"penalty_tier" db:"penalty_tier"`
	Status             LoanStatus      `json:"status" db:"status"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the loan no longer takes repayments.
func (l *Loan) IsTerminal() bool {
	return l.Status == LoanStatusFullyPaid || l.Status == LoanStatusClosed || l.Status == LoanStatusRejected
}

// MonthlyRate converts the annual percentage rate into a monthly fraction.
func (l *Loan) MonthlyRate() decimal.Decimal {
	return l.InterestRate.Div(decimal.NewFromInt(1200))
}

// Activate moves an approved loan into repayment: it computes the EMI, resets
// the remaining principal and schedules the first due date. The preferred day
// of month defaults to the day of firstDue.
func (l *Loan) Activate(firstDue time.Time) error {
	if l.Status != LoanStatusApproved {
		return fmt.Errorf("loan %s is %s, only %s loans can be activated", l.ID, l.Status, LoanStatusApproved)
	}
	if !l.Principal.IsPositive() || l.TenureMonths <= 0 {
		return fmt.Errorf("loan %s has principal %s and tenure %d", l.ID, l.Principal, l.TenureMonths)
	}

	due := utils.DateOnly(firstDue)
	if l.DayOfMonth == 0 {
		l.DayOfMonth = due.Day()
	}
	l.EMIAmount = utils.CalculateEMI(l.Principal, l.InterestRate, l.TenureMonths)
	l.RemainingPrincipal = l.Principal
	l.InstallmentsPaid = 0
	l.MissedInstallments = 0
	l.PenaltyTier = PenaltyTierNone
	l.NextDueDate = &due
	l.Status = LoanStatusActive
	return nil
}

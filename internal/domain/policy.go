package domain

import "time"

// Credit score bounds
const (
	MinCreditScore = 300
	MaxCreditScore = 900
)

// SettlementStage classifies a due date relative to today.
type SettlementStage string

const (
	StageEarly  SettlementStage = "EARLY"
	StageOnTime SettlementStage = "ON_TIME"
	StageLate   SettlementStage = "LATE"
	StageMissed SettlementStage = "MISSED"
)

// PenaltyPolicy holds the grace/late thresholds and credit score deltas.
// Penalties are magnitudes; they are subtracted from the score.
type PenaltyPolicy struct {
	GracePeriodDays        int
	LateThresholdDays      int
	EarlyCreditDelta       int
	OnTimeCreditDelta      int
	LatePenalty            int
	MissedPenalty          int
	MaxConsecutiveFailures int
}

// DefaultPenaltyPolicy returns the standard thresholds.
func DefaultPenaltyPolicy() PenaltyPolicy {
	return PenaltyPolicy{
		GracePeriodDays:        3,
		LateThresholdDays:      7,
		EarlyCreditDelta:       5,
		OnTimeCreditDelta:      2,
		LatePenalty:            10,
		MissedPenalty:          25,
		MaxConsecutiveFailures: 3,
	}
}

// Stage maps days late to a settlement stage.
func (p PenaltyPolicy) Stage(daysLate int) SettlementStage {
	switch {
	case daysLate < 0:
		return StageEarly
	case daysLate < p.GracePeriodDays:
		return StageOnTime
	case daysLate < p.LateThresholdDays:
		return StageLate
	default:
		return StageMissed
	}
}

// SettlementOutcome is the result of evaluating one obligation due date.
type SettlementOutcome string

const (
	OutcomeSettled          SettlementOutcome = "SETTLED"
	OutcomeInsufficientFund SettlementOutcome = "INSUFFICIENT_FUNDS"
	OutcomePenalized        SettlementOutcome = "PENALIZED"
	OutcomeMissed           SettlementOutcome = "MISSED"
	OutcomeFailed           SettlementOutcome = "FAILED"
	OutcomeCompleted        SettlementOutcome = "COMPLETED"
	OutcomeReminded         SettlementOutcome = "REMINDED"
	OutcomeAlreadyProcessed SettlementOutcome = "ALREADY_PROCESSED"
	OutcomeContended        SettlementOutcome = "LOCK_CONTENTION"
	OutcomeSkipped          SettlementOutcome = "SKIPPED"
	OutcomeFault            SettlementOutcome = "FAULT"
)

// SettlementResult is cached under the obligation idempotency key.
type SettlementResult struct {
	ObligationID  string            `json:"obligation_id"`
	Kind          string            `json:"kind"`
	DueDate       string            `json:"due_date"`
	Stage         SettlementStage   `json:"stage"`
	Outcome       SettlementOutcome `json:"outcome"`
	TransactionID string            `json:"transaction_id,omitempty"`
	CreditScore   int               `json:"credit_score,omitempty"`
	ProcessedAt   time.Time         `json:"processed_at"`
}

// ObligationFault describes an integrity problem that needs an operator.
type ObligationFault struct {
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	Reason       string `json:"reason"`
}

// CycleReport summarises one run of the daily cycle.
type CycleReport struct {
	Date       string            `json:"date"`
	Evaluated  int               `json:"evaluated"`
	Settled    int               `json:"settled"`
	Warned     int               `json:"warned"`
	Penalized  int               `json:"penalized"`
	Missed     int               `json:"missed"`
	Failed     int               `json:"failed"`
	Reminded   int               `json:"reminded"`
	Skipped    int               `json:"skipped"`
	Contended  int               `json:"contended"`
	Duplicates int               `json:"duplicates"`
	Faults     []ObligationFault `json:"faults,omitempty"`
}

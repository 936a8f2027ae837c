package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/segyhp/funds-engine/internal/domain"
	customError "github.com/segyhp/funds-engine/pkg/errors"
	"github.com/segyhp/funds-engine/pkg/response"
	"github.com/segyhp/funds-engine/pkg/utils"
)

// CycleTrigger runs the daily cycle under the per-date run lock.
type CycleTrigger interface {
	Trigger(ctx context.Context, today time.Time) (*domain.CycleReport, error)
}

// LoanSettler settles a single loan installment on request.
type LoanSettler interface {
	SettleLoanEarly(ctx context.Context, loanID uuid.UUID, today time.Time) (*domain.SettlementResult, error)
	Today() time.Time
}

type ObligationHandler struct {
	trigger  CycleTrigger
	settler  LoanSettler
	location *time.Location
}

func NewObligationHandler(trigger CycleTrigger, settler LoanSettler, location *time.Location) *ObligationHandler {
	if location == nil {
		location = time.UTC
	}
	return &ObligationHandler{
		trigger:  trigger,
		settler:  settler,
		location: location,
	}
}

type runCycleRequest struct {
	Date string `json:"date,omitempty"`
}

// RunCycle handles POST /api/v1/obligations/run
func (h *ObligationHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	var req runCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid request body", err)
		return
	}

	today := h.settler.Today()
	if req.Date != "" {
		parsed, err := utils.ParseDate(req.Date, h.location)
		if err != nil {
			response.BadRequest(w, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
		if utils.FormatDate(parsed) > utils.FormatDate(today) {
			response.BadRequest(w, "Cycle date must not be after today",
				customError.WrapFutureCycleDate(req.Date, utils.FormatDate(today)))
			return
		}
		today = parsed
	}

	report, err := h.trigger.Trigger(r.Context(), today)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, report)
}

// PrepayLoan handles POST /api/v1/loans/{loanId}/prepay
func (h *ObligationHandler) PrepayLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["loanId"])
	if err != nil {
		response.BadRequest(w, "Invalid loan ID", err)
		return
	}

	result, err := h.settler.SettleLoanEarly(r.Context(), loanID, h.settler.Today())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, result)
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/pkg/response"
)

// IdempotencyKeyHeader carries the client key. It takes precedence over the body field.
const IdempotencyKeyHeader = "Idempotency-Key"

// TransferService is the engine behind the transfer endpoint.
type TransferService interface {
	Transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error)
}

type TransferHandler struct {
	service   TransferService
	validator *validator.Validate
}

func NewTransferHandler(service TransferService) *TransferHandler {
	return &TransferHandler{
		service:   service,
		validator: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(domain.TransferRequest)
		if req.Amount.IsPositive() && !domain.ValidAmount(req.Amount) {
			sl.ReportError(req.Amount, "amount", "Amount", "scale", "2")
		}
	}, domain.TransferRequest{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Transfer handles POST /api/v1/transfers
func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		req.IdempotencyKey = key
	}

	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return
	}

	result, err := h.service.Transfer(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	if result.Replayed {
		response.Success(w, result)
		return
	}
	response.Created(w, result)
}

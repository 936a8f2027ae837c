package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/funds-engine/internal/domain"
)

type MockTransferService struct {
	mock.Mock
}

func (m *MockTransferService) Transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransferResult), args.Error(1)
}

type MockObligationService struct {
	mock.Mock
}

func (m *MockObligationService) RunDailyCycle(ctx context.Context, today time.Time) (*domain.CycleReport, error) {
	args := m.Called(ctx, today)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CycleReport), args.Error(1)
}

func (m *MockObligationService) SettleLoanEarly(ctx context.Context, loanID uuid.UUID, today time.Time) (*domain.SettlementResult, error) {
	args := m.Called(ctx, loanID, today)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementResult), args.Error(1)
}

func (m *MockObligationService) Today() time.Time {
	args := m.Called()
	return args.Get(0).(time.Time)
}

type MockCycleTrigger struct {
	mock.Mock
}

func (m *MockCycleTrigger) Trigger(ctx context.Context, today time.Time) (*domain.CycleReport, error) {
	args := m.Called(ctx, today)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CycleReport), args.Error(1)
}

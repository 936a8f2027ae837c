package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/funds-engine/internal/events"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, event events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/config"
	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/repository/memstore"
)

func TestNew_InMemoryDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", config.DriverMemory)
	t.Setenv("IDEMPOTENCY_DRIVER", config.DriverMemory)
	t.Setenv("RABBITMQ_URL", "")
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	store, ok := a.Store.(*memstore.Store)
	require.True(t, ok)
	assert.IsType(t, &idempotency.MemoryRegistry{}, a.Registry)

	for _, number := range []string{"ACC-1", "ACC-2"} {
		store.PutAccount(domain.Account{
			AccountNumber:      number,
			Balance:            decimal.NewFromInt(100),
			VerificationStatus: domain.VerificationVerified,
		})
	}

	ctx := context.Background()
	result, err := a.Transfers.Transfer(ctx, &domain.TransferRequest{
		FromAccount:    "ACC-1",
		ToAccount:      "ACC-2",
		Amount:         decimal.NewFromInt(40),
		IdempotencyKey: "boot-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, result.Status)

	for name, check := range a.HealthChecks() {
		assert.NoError(t, check.Ping(ctx), name)
	}

	require.NoError(t, a.Close(ctx))
	acc, _ := store.Account("ACC-2")
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(140)))
}

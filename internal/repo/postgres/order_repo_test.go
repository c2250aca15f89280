package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/repo/postgres"
)

func Test_OrderRepo_CreateThenGet_RoundTrips(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Order{ClientID: "c1", CountA: 2, CountB: 1, Description: "first", Status: domain.DeliveryPending})
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)
	assert.Equal(t, domain.DeliveryPending, got.Status)
	assert.Equal(t, "first", got.Description)
}

func Test_OrderRepo_Get_UnknownOrder_ReturnsUnknownOrder(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)

	_, err := repo.Get(context.Background(), 999999)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
}

func Test_OrderRepo_UpdateStatus_TerminalOrder_ReturnsTerminalOrder(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Order{ClientID: "c1", Status: domain.Delivered})
	require.NoError(t, err)

	err = repo.UpdateStatus(ctx, id, domain.Canceled)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTerminalOrder)
}

func Test_OrderRepo_UpdateStatus_NonTerminal_Applies(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Order{ClientID: "c1", Status: domain.DeliveryPending})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, id, domain.PaymentPending))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.Status)
}

func Test_OrderRepo_UpdateDescription_LeavesStatusUntouched(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)
	ctx := context.Background()

	id, err := repo.Create(ctx, domain.Order{ClientID: "c1", Status: domain.Queued, Description: "old"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateDescription(ctx, id, "new"))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, domain.Queued, got.Status)
}

func Test_OrderRepo_UpdateDescription_UnknownOrder_ReturnsUnknownOrder(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)

	err := repo.UpdateDescription(context.Background(), 999999, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
}

func Test_OrderRepo_List_OrdersMostRecentFirst(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewOrderRepo(pool)
	ctx := context.Background()

	id1, err := repo.Create(ctx, domain.Order{ClientID: "c1", Status: domain.Queued})
	require.NoError(t, err)
	id2, err := repo.Create(ctx, domain.Order{ClientID: "c2", Status: domain.Queued})
	require.NoError(t, err)

	list, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].OrderID)
	assert.Equal(t, id1, list[1].OrderID)
}

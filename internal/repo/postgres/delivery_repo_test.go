package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/repo/postgres"
)

func Test_DeliveryRepo_CreateThenGet(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewDeliveryRepo(pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, domain.Delivery{OrderID: 1, ClientID: "c1", Status: domain.DeliveryCreated}))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCreated, got.Status)
	assert.Equal(t, "c1", got.ClientID)
}

func Test_DeliveryRepo_Get_Missing_ReturnsNotFound(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewDeliveryRepo(pool)

	_, err := repo.Get(context.Background(), 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_DeliveryRepo_UpdateStatus_Missing_ReturnsNotFound(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewDeliveryRepo(pool)

	err := repo.UpdateStatus(context.Background(), 999, domain.DeliveryDelivered)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_DeliveryRepo_UpdateStatus_Applies(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewDeliveryRepo(pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, domain.Delivery{OrderID: 2, ClientID: "c1", Status: domain.DeliveryCreated}))
	require.NoError(t, repo.UpdateStatus(ctx, 2, domain.DeliveryDelivering))

	got, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivering, got.Status)
}

func Test_ClientAddressRepo_UpsertThenGet(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewClientAddressRepo(pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.ClientAddress{ClientID: "c1", Address: "1 Main St", ZipCode: 1001}))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", got.Address)
	assert.Equal(t, 1001, got.ZipCode)
}

func Test_ClientAddressRepo_Upsert_Overwrites(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewClientAddressRepo(pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.ClientAddress{ClientID: "c1", Address: "old", ZipCode: 1001}))
	require.NoError(t, repo.Upsert(ctx, domain.ClientAddress{ClientID: "c1", Address: "new", ZipCode: 20500}))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Address)
	assert.Equal(t, 20500, got.ZipCode)
}

func Test_ClientAddressRepo_Get_Missing_ReturnsNotFound(t *testing.T) {
	pool := newTestPool(t)
	repo := postgres.NewClientAddressRepo(pool)

	_, err := repo.Get(context.Background(), "unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

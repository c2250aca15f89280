package saga_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/saga"
)

// fakeOrders is a minimal in-memory domain.OrderRepository for orchestrator
// tests: no concurrency control, single-goroutine use only.
type fakeOrders struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Order
}

func newFakeOrders() *fakeOrders { return &fakeOrders{rows: map[int64]domain.Order{}} }

func (f *fakeOrders) Create(ctx domain.Context, o domain.Order) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.OrderID = f.nextID
	f.rows[o.OrderID] = o
	return o.OrderID, nil
}

func (f *fakeOrders) Get(ctx domain.Context, orderID int64) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[orderID]
	if !ok {
		return domain.Order{}, domain.ErrUnknownOrder
	}
	return o, nil
}

func (f *fakeOrders) UpdateStatus(ctx domain.Context, orderID int64, status domain.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[orderID]
	if !ok {
		return domain.ErrUnknownOrder
	}
	if domain.IsTerminal(o.Status) {
		return domain.ErrTerminalOrder
	}
	o.Status = status
	f.rows[orderID] = o
	return nil
}

func (f *fakeOrders) List(ctx domain.Context, offset, limit int) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrders) UpdateDescription(ctx domain.Context, orderID int64, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[orderID]
	if !ok {
		return domain.ErrUnknownOrder
	}
	o.Description = description
	f.rows[orderID] = o
	return nil
}

// fakeSagaLog is a minimal in-memory domain.SagaLog.
type fakeSagaLog struct {
	mu      sync.Mutex
	entries []domain.SagaEntry
}

func newFakeSagaLog() *fakeSagaLog { return &fakeSagaLog{} }

func (f *fakeSagaLog) Append(ctx domain.Context, orderID int64, status domain.OrderStatus, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, domain.SagaEntry{OrderID: orderID, Status: status, Timestamp: ts})
	return nil
}

func (f *fakeSagaLog) ListForOrder(ctx domain.Context, orderID int64) ([]domain.SagaEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SagaEntry
	for _, e := range f.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSagaLog) CountPaymentSegment(ctx domain.Context, orderID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.entries {
		if e.OrderID == orderID && domain.InPaymentSegment(e.Status) {
			count++
		}
	}
	return count, nil
}

// fakeCatalog is a fixed-price domain.CatalogRepository.
type fakeCatalog struct{ priceA, priceB int64 }

func (f fakeCatalog) Get(ctx domain.Context, t domain.PieceType) (domain.CatalogEntry, error) {
	if t == domain.PieceTypeA {
		return domain.CatalogEntry{PieceType: t, Price: f.priceA}, nil
	}
	return domain.CatalogEntry{PieceType: t, Price: f.priceB}, nil
}

func (f fakeCatalog) List(ctx domain.Context) ([]domain.CatalogEntry, error) {
	return []domain.CatalogEntry{{PieceType: domain.PieceTypeA, Price: f.priceA}, {PieceType: domain.PieceTypeB, Price: f.priceB}}, nil
}

// fakeBus records every publish; Subscribe is unused by these tests since
// handlers are invoked directly.
type fakeBus struct {
	mu        sync.Mutex
	published []published
}

type published struct {
	exchange domain.Exchange
	key      domain.RoutingKey
	env      domain.Envelope
}

func (f *fakeBus) Publish(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, body []byte) error {
	env, err := domain.ParseEnvelope(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{exchange: exchange, key: key, env: env})
	return nil
}

func (f *fakeBus) Subscribe(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, handler domain.Handler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func newOrchestrator() (*saga.Orchestrator, *fakeOrders, *fakeSagaLog, *fakeBus) {
	orders := newFakeOrders()
	log := newFakeSagaLog()
	bus := &fakeBus{}
	o := saga.New(orders, log, fakeCatalog{priceA: 300, priceB: 500}, bus)
	return o, orders, log, bus
}

func deliveryCheckedBody(t *testing.T, orderID int64, status bool) []byte {
	t.Helper()
	body, err := domain.EncodeEnvelope(domain.Envelope{OrderID: orderID, Status: domain.BoolPtr(status)})
	require.NoError(t, err)
	return body
}

func Test_CreateOrder_AppendsDeliveryPendingAndPublishesDeliveryCheck(t *testing.T) {
	o, orders, log, bus := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "two A one B")
	require.NoError(t, err)

	order, err := orders.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, order.Status)

	entries, _ := log.ListForOrder(ctx, orderID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.DeliveryPending, entries[0].Status)

	last := bus.last()
	assert.Equal(t, domain.ExchangeCommands, last.exchange)
	assert.Equal(t, domain.KeyDeliveryCheck, last.key)
	assert.Equal(t, orderID, last.env.OrderID)
}

func Test_CreateOrder_RejectsEmptyClientID(t *testing.T) {
	o, _, _, _ := newOrchestrator()
	_, err := o.CreateOrder(context.Background(), "", 1, 0, "")
	require.Error(t, err)
}

func Test_HappyPath_DrivesOrderToDelivered(t *testing.T) {
	o, orders, log, bus := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "")
	require.NoError(t, err)

	// delivery.checked{true}
	err = dispatch(ctx, o, domain.KeyDeliveryChecked, deliveryCheckedBody(t, orderID, true))
	require.NoError(t, err)
	order, _ := orders.Get(ctx, orderID)
	assert.Equal(t, domain.PaymentPending, order.Status)
	assert.Equal(t, domain.KeyPaymentCheck, bus.last().key)
	assert.Equal(t, int64(-(300*2 + 500*1)), bus.last().env.Movement)

	// payment.checked{true}
	err = dispatch(ctx, o, domain.KeyPaymentChecked, deliveryCheckedBody(t, orderID, true))
	require.NoError(t, err)
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Queued, order.Status)
	assert.Equal(t, domain.KeyWarehouseRequested, bus.last().key)

	// orders.produced
	err = dispatch(ctx, o, domain.KeyOrdersProduced, deliveryCheckedBody(t, orderID, true))
	require.NoError(t, err)
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Produced, order.Status)

	// orders.delivering
	err = dispatch(ctx, o, domain.KeyOrdersDelivering, deliveryCheckedBody(t, orderID, true))
	require.NoError(t, err)
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Delivering, order.Status)

	// orders.delivered
	err = dispatch(ctx, o, domain.KeyOrdersDelivered, deliveryCheckedBody(t, orderID, true))
	require.NoError(t, err)
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Delivered, order.Status)
	assert.True(t, domain.IsTerminal(order.Status))

	entries, _ := log.ListForOrder(ctx, orderID)
	var statuses []domain.OrderStatus
	for _, e := range entries {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []domain.OrderStatus{
		domain.DeliveryPending, domain.PaymentPending, domain.Queued,
		domain.Produced, domain.Delivering, domain.Delivered,
	}, statuses)
}

func Test_InsufficientFunds_CancelsWithoutPayment(t *testing.T) {
	o, orders, _, bus := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "")
	require.NoError(t, err)
	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryChecked, deliveryCheckedBody(t, orderID, true)))
	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentChecked, deliveryCheckedBody(t, orderID, false)))

	order, _ := orders.Get(ctx, orderID)
	assert.Equal(t, domain.DeliveryCanceling, order.Status)
	assert.Equal(t, domain.KeyDeliveryCancel, bus.last().key)

	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryCanceled, deliveryCheckedBody(t, orderID, true)))
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Canceled, order.Status)
}

func Test_BadAddress_CancelsWithoutPaymentAttempt(t *testing.T) {
	o, orders, log, bus := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "")
	require.NoError(t, err)
	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryChecked, deliveryCheckedBody(t, orderID, false)))

	order, _ := orders.Get(ctx, orderID)
	assert.Equal(t, domain.Canceled, order.Status)

	entries, _ := log.ListForOrder(ctx, orderID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.DeliveryPending, entries[0].Status)
	assert.Equal(t, domain.Canceled, entries[1].Status)

	// No payment.check was ever published.
	for _, p := range bus.published {
		assert.NotEqual(t, domain.KeyPaymentCheck, p.key)
	}
}

func Test_DuplicatePaymentChecked_AppendsOnlyOneQueuedEntry(t *testing.T) {
	o, _, log, _ := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "")
	require.NoError(t, err)
	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryChecked, deliveryCheckedBody(t, orderID, true)))
	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentChecked, deliveryCheckedBody(t, orderID, true)))
	// duplicate delivery of the same response
	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentChecked, deliveryCheckedBody(t, orderID, true)))

	entries, _ := log.ListForOrder(ctx, orderID)
	queuedCount := 0
	for _, e := range entries {
		if e.Status == domain.Queued {
			queuedCount++
		}
	}
	assert.Equal(t, 1, queuedCount)
}

func Test_CancelFromQueued_ReclaimableInventory(t *testing.T) {
	o, orders, _, bus := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "")
	require.NoError(t, err)
	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryChecked, deliveryCheckedBody(t, orderID, true)))
	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentChecked, deliveryCheckedBody(t, orderID, true)))

	require.NoError(t, o.CancelOrder(ctx, orderID))
	order, _ := orders.Get(ctx, orderID)
	assert.Equal(t, domain.OrderCancelDeliveryPending, order.Status)
	assert.Equal(t, domain.KeyDeliveryCheckCancel, bus.last().key)

	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryCheckedCancel, deliveryCheckedBody(t, orderID, true)))
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.OrderCancelPaymentPending, order.Status)

	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentCheckedCancel, deliveryCheckedBody(t, orderID, true)))
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.OrderCancelWarehousePending, order.Status)

	require.NoError(t, dispatch(ctx, o, domain.KeyWarehouseCheckedCancel, deliveryCheckedBody(t, orderID, true)))
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Canceled, order.Status)
}

func Test_CancelTooLate_CompensatesBackToQueued(t *testing.T) {
	o, orders, _, bus := newOrchestrator()
	ctx := context.Background()

	orderID, err := o.CreateOrder(ctx, "client-7", 2, 1, "")
	require.NoError(t, err)
	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryChecked, deliveryCheckedBody(t, orderID, true)))
	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentChecked, deliveryCheckedBody(t, orderID, true)))
	require.NoError(t, o.CancelOrder(ctx, orderID))
	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryCheckedCancel, deliveryCheckedBody(t, orderID, true)))
	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentCheckedCancel, deliveryCheckedBody(t, orderID, true)))

	// warehouse rejects: piece already shipped
	require.NoError(t, dispatch(ctx, o, domain.KeyWarehouseCheckedCancel, deliveryCheckedBody(t, orderID, false)))
	order, _ := orders.Get(ctx, orderID)
	assert.Equal(t, domain.OrderCancelPaymentRecharging, order.Status)
	assert.Equal(t, domain.KeyPaymentRevertCancel, bus.last().key)

	require.NoError(t, dispatch(ctx, o, domain.KeyPaymentRevertedCancel, deliveryCheckedBody(t, orderID, true)))
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.OrderCancelDeliveryRedelivering, order.Status)
	assert.Equal(t, domain.KeyDeliveryRevertCancel, bus.last().key)

	require.NoError(t, dispatch(ctx, o, domain.KeyDeliveryRevertedCancel, deliveryCheckedBody(t, orderID, true)))
	order, _ = orders.Get(ctx, orderID)
	assert.Equal(t, domain.Queued, order.Status)
}

func Test_CancelOrder_RefusesOutsideQueued(t *testing.T) {
	o, _, _, _ := newOrchestrator()
	ctx := context.Background()
	orderID, err := o.CreateOrder(ctx, "client-7", 1, 0, "")
	require.NoError(t, err)
	err = o.CancelOrder(ctx, orderID)
	require.Error(t, err)
}

// dispatch invokes the orchestrator's bus handler for a given routing key
// through the exported Dispatch method, which calls the bound handler
// directly, bypassing the need for a live broker.
func dispatch(ctx context.Context, o *saga.Orchestrator, key domain.RoutingKey, body []byte) error {
	return o.Dispatch(ctx, key, body)
}

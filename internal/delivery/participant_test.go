package delivery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/orderforge/internal/delivery"
	"github.com/forgeware/orderforge/internal/domain"
)

type fakeDeliveries struct {
	mu   sync.Mutex
	rows map[int64]domain.Delivery
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{rows: map[int64]domain.Delivery{}}
}

func (f *fakeDeliveries) Create(ctx domain.Context, d domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[d.OrderID] = d
	return nil
}

func (f *fakeDeliveries) Get(ctx domain.Context, orderID int64) (domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[orderID]
	if !ok {
		return domain.Delivery{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeDeliveries) UpdateStatus(ctx domain.Context, orderID int64, status domain.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	f.rows[orderID] = d
	return nil
}

type fakeAddresses struct {
	addrs map[string]domain.ClientAddress
}

func (f *fakeAddresses) Upsert(ctx domain.Context, a domain.ClientAddress) error {
	f.addrs[a.ClientID] = a
	return nil
}

func (f *fakeAddresses) Get(ctx domain.Context, clientID string) (domain.ClientAddress, error) {
	a, ok := f.addrs[clientID]
	if !ok {
		return domain.ClientAddress{}, domain.ErrNotFound
	}
	return a, nil
}

type published struct {
	exchange domain.Exchange
	key      domain.RoutingKey
	env      domain.Envelope
}

type fakeBus struct {
	mu        sync.Mutex
	published []published
}

func (f *fakeBus) Publish(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, body []byte) error {
	env, err := domain.ParseEnvelope(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{exchange, key, env})
	return nil
}
func (f *fakeBus) Subscribe(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, handler domain.Handler) error {
	<-ctx.Done()
	return nil
}
func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) keys() []domain.RoutingKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []domain.RoutingKey
	for _, p := range f.published {
		keys = append(keys, p.key)
	}
	return keys
}

func (f *fakeBus) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func envelopeBody(t *testing.T, e domain.Envelope) []byte {
	t.Helper()
	body, err := domain.EncodeEnvelope(e)
	require.NoError(t, err)
	return body
}

func newParticipant(deliveries *fakeDeliveries, addresses *fakeAddresses, bus *fakeBus) *delivery.Participant {
	return delivery.New(deliveries, addresses, bus, time.Millisecond, 2*time.Millisecond)
}

func Test_DeliveryCheck_FeasibleZip_CreatesCreatedAndRepliesTrue(t *testing.T) {
	deliveries := newFakeDeliveries()
	addresses := &fakeAddresses{addrs: map[string]domain.ClientAddress{"7": {ClientID: "7", ZipCode: 1234}}}
	bus := &fakeBus{}
	p := newParticipant(deliveries, addresses, bus)

	err := p.Dispatch(context.Background(), domain.KeyDeliveryCheck, envelopeBody(t, domain.Envelope{OrderID: 1, ClientID: "7"}))
	require.NoError(t, err)

	d, err := deliveries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCreated, d.Status)
	assert.True(t, *bus.last().env.Status)
}

func Test_DeliveryCheck_InfeasibleZip_CreatesCanceledAndRepliesFalse(t *testing.T) {
	deliveries := newFakeDeliveries()
	addresses := &fakeAddresses{addrs: map[string]domain.ClientAddress{"7": {ClientID: "7", ZipCode: 99000}}}
	bus := &fakeBus{}
	p := newParticipant(deliveries, addresses, bus)

	err := p.Dispatch(context.Background(), domain.KeyDeliveryCheck, envelopeBody(t, domain.Envelope{OrderID: 1, ClientID: "7"}))
	require.NoError(t, err)

	d, err := deliveries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCanceled, d.Status)
	assert.False(t, *bus.last().env.Status)
}

func Test_DeliveryCheckCancel_WhileCreated_CancelsAndRepliesTrue(t *testing.T) {
	deliveries := newFakeDeliveries()
	require.NoError(t, deliveries.Create(context.Background(), domain.Delivery{OrderID: 1, ClientID: "7", Status: domain.DeliveryCreated}))
	bus := &fakeBus{}
	p := newParticipant(deliveries, &fakeAddresses{addrs: map[string]domain.ClientAddress{}}, bus)

	err := p.Dispatch(context.Background(), domain.KeyDeliveryCheckCancel, envelopeBody(t, domain.Envelope{OrderID: 1}))
	require.NoError(t, err)

	d, err := deliveries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCanceled, d.Status)
	assert.True(t, *bus.last().env.Status)
}

func Test_DeliveryCheckCancel_AlreadyDelivering_RepliesFalseWithoutMutation(t *testing.T) {
	deliveries := newFakeDeliveries()
	require.NoError(t, deliveries.Create(context.Background(), domain.Delivery{OrderID: 1, ClientID: "7", Status: domain.DeliveryDelivering}))
	bus := &fakeBus{}
	p := newParticipant(deliveries, &fakeAddresses{addrs: map[string]domain.ClientAddress{}}, bus)

	err := p.Dispatch(context.Background(), domain.KeyDeliveryCheckCancel, envelopeBody(t, domain.Envelope{OrderID: 1}))
	require.NoError(t, err)

	d, err := deliveries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivering, d.Status)
	assert.False(t, *bus.last().env.Status)
}

func Test_OrdersProduced_DrivesDeliveringThenDelivered(t *testing.T) {
	deliveries := newFakeDeliveries()
	require.NoError(t, deliveries.Create(context.Background(), domain.Delivery{OrderID: 1, ClientID: "7", Status: domain.DeliveryCreated}))
	bus := &fakeBus{}
	p := newParticipant(deliveries, &fakeAddresses{addrs: map[string]domain.ClientAddress{}}, bus)

	err := p.Dispatch(context.Background(), domain.KeyOrdersProduced, envelopeBody(t, domain.Envelope{OrderID: 1}))
	require.NoError(t, err)

	d, err := deliveries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, d.Status)
	assert.Equal(t, []domain.RoutingKey{domain.KeyOrdersDelivering, domain.KeyOrdersDelivered}, bus.keys())
}

func Test_OrdersProduced_AlreadyCanceled_LeavesUntouched(t *testing.T) {
	deliveries := newFakeDeliveries()
	require.NoError(t, deliveries.Create(context.Background(), domain.Delivery{OrderID: 1, ClientID: "7", Status: domain.DeliveryCanceled}))
	bus := &fakeBus{}
	p := newParticipant(deliveries, &fakeAddresses{addrs: map[string]domain.ClientAddress{}}, bus)

	err := p.Dispatch(context.Background(), domain.KeyOrdersProduced, envelopeBody(t, domain.Envelope{OrderID: 1}))
	require.NoError(t, err)

	d, err := deliveries.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCanceled, d.Status)
	assert.Empty(t, bus.keys())
}

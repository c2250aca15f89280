package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/httpapi"
	"github.com/forgeware/orderforge/internal/saga"
)

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

type fakeSagaLog struct {
	mu      sync.Mutex
	entries []domain.SagaEntry
}

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
	return 0, nil
}

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

type noopBus struct{}

func (noopBus) Publish(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, body []byte) error {
	return nil
}
func (noopBus) Subscribe(ctx domain.Context, exchange domain.Exchange, key domain.RoutingKey, handler domain.Handler) error {
	<-ctx.Done()
	return nil
}
func (noopBus) Close() error { return nil }

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	return f.allow, 0, nil
}

func newServer() (*httpapi.Server, *fakeOrders) {
	orders := newFakeOrders()
	log := &fakeSagaLog{}
	catalog := fakeCatalog{priceA: 100, priceB: 250}
	orch := saga.New(orders, log, catalog, noopBus{})
	return httpapi.NewServer(orch, orders, log, catalog, nil), orders
}

func routerWith(srv *httpapi.Server, adminToken string) http.Handler {
	r := chi.NewRouter()
	r.Post("/create_order", srv.CreateOrder())
	r.Get("/order/retrieve/{order_id}", srv.RetrieveOrder())
	r.Post("/order/cancel/{order_id}", srv.CancelOrder())
	r.Get("/order/sagashistory/{order_id}", srv.SagasHistory())
	r.Get("/order/catalog", srv.Catalog())
	r.With(httpapi.AdminGuard(adminToken)).Put("/order/update/{order_id}", srv.UpdateOrder())
	return r
}

func Test_CreateOrder_ValidRequest_Returns201WithOrderID(t *testing.T) {
	srv, _ := newServer()
	router := routerWith(srv, "")
	body, _ := json.Marshal(map[string]any{"client_id": "client-1", "count_a": 2, "count_b": 0})
	req := httptest.NewRequest(http.MethodPost, "/create_order", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		OrderID int64 `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.OrderID)
}

func Test_CreateOrder_MissingClientID_Returns400(t *testing.T) {
	srv, _ := newServer()
	router := routerWith(srv, "")
	body, _ := json.Marshal(map[string]any{"count_a": 1})
	req := httptest.NewRequest(http.MethodPost, "/create_order", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_RetrieveOrder_UnknownOrder_Returns404(t *testing.T) {
	srv, _ := newServer()
	router := routerWith(srv, "")
	req := httptest.NewRequest(http.MethodGet, "/order/retrieve/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_CancelOrder_NotQueued_Returns409(t *testing.T) {
	srv, orders := newServer()
	id, err := orders.Create(context.Background(), domain.Order{ClientID: "c1", Status: domain.DeliveryPending})
	require.NoError(t, err)
	router := routerWith(srv, "")
	req := httptest.NewRequest(http.MethodPost, "/order/cancel/"+strconv.FormatInt(id, 10), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func Test_UpdateOrder_NoAdminTokenConfigured_Returns404(t *testing.T) {
	srv, _ := newServer()
	router := routerWith(srv, "")
	body, _ := json.Marshal(map[string]any{"description": "new"})
	req := httptest.NewRequest(http.MethodPut, "/order/update/1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_UpdateOrder_ValidToken_UpdatesDescription(t *testing.T) {
	srv, orders := newServer()
	id, err := orders.Create(context.Background(), domain.Order{ClientID: "c1", Status: domain.DeliveryPending})
	require.NoError(t, err)
	router := routerWith(srv, "s3cret")
	body, _ := json.Marshal(map[string]any{"description": "gift wrap"})
	req := httptest.NewRequest(http.MethodPut, "/order/update/"+strconv.FormatInt(id, 10), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	o, err := orders.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "gift wrap", o.Description)
}

func Test_CreateOrder_LimiterRefuses_Returns429(t *testing.T) {
	srv, _ := newServer()
	srv.Limiter = fakeLimiter{allow: false}
	router := routerWith(srv, "")
	body, _ := json.Marshal(map[string]any{"client_id": "client-1", "count_a": 1})
	req := httptest.NewRequest(http.MethodPost, "/create_order", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func Test_Catalog_ListsBothPieceTypes(t *testing.T) {
	srv, _ := newServer()
	router := routerWith(srv, "")
	req := httptest.NewRequest(http.MethodGet, "/order/catalog", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/saga"
	"github.com/forgeware/orderforge/internal/service/ratelimiter"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Server aggregates the dependencies the order service's HTTP handlers need.
type Server struct {
	Orchestrator *saga.Orchestrator
	Orders       domain.OrderRepository
	Log          domain.SagaLog
	Catalog      domain.CatalogRepository
	// Limiter throttles order creation per client_id. Nil disables the
	// per-client check (the per-IP httprate group in the router still
	// applies).
	Limiter ratelimiter.Limiter
}

// NewServer constructs a Server.
func NewServer(orch *saga.Orchestrator, orders domain.OrderRepository, log domain.SagaLog, catalog domain.CatalogRepository, limiter ratelimiter.Limiter) *Server {
	return &Server{Orchestrator: orch, Orders: orders, Log: log, Catalog: catalog, Limiter: limiter}
}

type createOrderRequest struct {
	ClientID    string `json:"client_id" validate:"required"`
	CountA      int    `json:"count_a" validate:"gte=0"`
	CountB      int    `json:"count_b" validate:"gte=0"`
	Description string `json:"description"`
}

type createOrderResponse struct {
	OrderID int64 `json:"order_id"`
}

// CreateOrder handles POST /create_order.
func (s *Server) CreateOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("op=httpapi.create_order decode: %w: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("op=httpapi.create_order validate: %w: %v", domain.ErrInvalidArgument, err))
			return
		}
		if s.Limiter != nil {
			allowed, _, err := s.Limiter.Allow(r.Context(), "create_order:"+req.ClientID, 1)
			if err != nil {
				writeError(w, fmt.Errorf("op=httpapi.create_order rate_limit: %w", err))
				return
			}
			if !allowed {
				writeError(w, fmt.Errorf("op=httpapi.create_order: %w: client %s", domain.ErrRateLimited, req.ClientID))
				return
			}
		}
		orderID, err := s.Orchestrator.CreateOrder(r.Context(), req.ClientID, req.CountA, req.CountB, req.Description)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, createOrderResponse{OrderID: orderID})
	}
}

func parseOrderID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "order_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("op=httpapi.parse_order_id: %w: order_id must be an integer", domain.ErrInvalidArgument)
	}
	return id, nil
}

type orderResponse struct {
	OrderID     int64  `json:"order_id"`
	ClientID    string `json:"client_id"`
	CountA      int    `json:"count_a"`
	CountB      int    `json:"count_b"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// RetrieveOrder handles GET /order/retrieve/{order_id}.
func (s *Server) RetrieveOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		order, err := s.Orders.Get(r.Context(), orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orderResponse{
			OrderID:     order.OrderID,
			ClientID:    order.ClientID,
			CountA:      order.CountA,
			CountB:      order.CountB,
			Description: order.Description,
			Status:      string(order.Status),
		})
	}
}

// CancelOrder handles POST /order/cancel/{order_id}.
func (s *Server) CancelOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.Orchestrator.CancelOrder(r.Context(), orderID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type updateOrderRequest struct {
	Description string `json:"description" validate:"required"`
}

// UpdateOrder handles PUT /order/update/{order_id}. Admin only (§6); it
// never touches Status (see domain.OrderRepository.UpdateDescription).
func (s *Server) UpdateOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req updateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("op=httpapi.update_order decode: %w: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("op=httpapi.update_order validate: %w: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := s.Orders.UpdateDescription(r.Context(), orderID, req.Description); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type sagaEntryResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// SagasHistory handles GET /order/sagashistory/{order_id}.
func (s *Server) SagasHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		entries, err := s.Log.ListForOrder(r.Context(), orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]sagaEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, sagaEntryResponse{Status: string(e.Status), Timestamp: e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type catalogEntryResponse struct {
	PieceType string `json:"piece_type"`
	Price     int64  `json:"price"`
}

// Catalog handles GET /order/catalog.
func (s *Server) Catalog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Catalog.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]catalogEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, catalogEntryResponse{PieceType: string(e.PieceType), Price: e.Price})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

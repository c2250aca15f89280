package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/forgeware/orderforge/internal/config"
	"github.com/forgeware/orderforge/internal/observability"
)

// parseOrigins splits a comma-separated origin list, trimming spaces. An
// empty or "*" input allows any origin.
func parseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter wires the order service's public HTTP surface (§6).
func BuildRouter(cfg config.Config, srv *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer())
	r.Use(RequestID())
	r.Use(AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: parseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Post("/create_order", srv.CreateOrder())
		wr.Post("/order/cancel/{order_id}", srv.CancelOrder())
	})

	r.Get("/order/retrieve/{order_id}", srv.RetrieveOrder())
	r.Get("/order/sagashistory/{order_id}", srv.SagasHistory())
	r.Get("/order/catalog", srv.Catalog())

	r.Group(func(wr chi.Router) {
		wr.Use(AdminGuard(cfg.AdminToken))
		wr.Put("/order/update/{order_id}", srv.UpdateOrder())
	})

	return r
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi, all routes under /api except /healthz

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the load balancer
  3. AccessLog:  One zerolog event per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request deadline flows into storage transactions
  6. CORS:       Cross-origin requests for the dashboards

ROUTE GROUPS:
  /api/loans/*          Loans and their schedules
  /api/plans/*          Plan previews
  /api/installments/*   Assignment and collection
  /api/agents/*         Agent registry and worklists
  /api/analytics/*      Dashboard metrics
  /api/scenarios/*      Demo portfolios (dev only)
  /healthz              Liveness and database check

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultAllowedOrigins are the local dashboard dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// RequestTimeout bounds every request, including its storage transaction.
const RequestTimeout = 30 * time.Second

// IdempotencyKeyHeader carries a collection's idempotency key when the body
// has none.
const IdempotencyKeyHeader = "Idempotency-Key"

// NewRouter creates a new router with all routes configured. With no
// origins, DefaultAllowedOrigins are used.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Get("/{id}", h.GetLoan)
			r.Post("/{id}/status", h.SetLoanStatus)
			r.Post("/{id}/assign", h.AssignLoan)
			r.Post("/{id}/schedule", h.MaterializeSchedule)
			r.Get("/{id}/schedule", h.GetSchedule)
		})

		r.Post("/plans/preview", h.PreviewPlan)

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Get("/{id}", h.GetInstallment)
			r.Post("/{id}/assign", h.AssignInstallment)
			r.Post("/{id}/unassign", h.UnassignInstallment)
			r.Post("/{id}/collect", h.CollectInstallment)
			r.Get("/{id}/collections", h.ListCollections)
			r.Get("/{id}/assignments", h.ListAssignments)
		})

		// Agent routes
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Get("/{id}/installments", h.AgentInstallments)
			r.Post("/{id}/active", h.SetAgentActive)
		})

		// Analytics routes
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/", h.GetAnalytics)
			r.Get("/agents", h.GetAgentPerformance)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// AccessLog writes one structured log event per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			var event *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				event = log.Error()
			case status >= http.StatusBadRequest:
				event = log.Warn()
			default:
				event = log.Info()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

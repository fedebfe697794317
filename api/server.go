/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. requestLog: Structured request logging via zerolog
  5. CORS:       Cross-origin requests for frontend

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Tenancy is trust-based via the X-Tenant-ID header.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Capture routes
		r.Route("/capture", func(r chi.Router) {
			r.Post("/", h.SubmitCapture)
			r.Post("/{id}/approve", h.ApproveCapture)
			r.Post("/{id}/reject", h.RejectCapture)
			r.Post("/{id}/resubmit", h.ResubmitCapture)
		})

		// Engagement routes
		r.Route("/engagements", func(r chi.Router) {
			r.Get("/", h.ListEngagements)
			r.Get("/{id}/wip", h.ListWip)
			r.Get("/{id}/wip/aging", h.WipAging)
		})

		// WIP line routes
		r.Route("/wip", func(r chi.Router) {
			r.Post("/{lineID}/adjust", h.AdjustWip)
			r.Post("/{lineID}/writeoff", h.WriteOffWip)
			r.Post("/{lineID}/transfer", h.TransferWip)
			r.Get("/{lineID}/adjustments", h.ListAdjustments)
		})

		// Period lock routes
		r.Route("/locks", func(r chi.Router) {
			r.Post("/", h.LockPeriod)
			r.Post("/{id}/override", h.RequestOverride)
		})

		// Approval routes
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.ListPendingApprovals)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
		})

		// Billing pack routes
		r.Route("/packs", func(r chi.Router) {
			r.Post("/", h.CreatePack)
			r.Post("/{id}/lines", h.AddPackLine)
			r.Delete("/{id}/lines/{lineID}", h.RemovePackLine)
			r.Post("/{id}/submit", h.SubmitPack)
			r.Post("/{id}/approve", h.ApprovePack)
			r.Post("/{id}/cancel", h.CancelPack)
			r.Post("/{id}/invoice", h.IssueInvoice)
		})

		// Invoice and collections routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/aging", h.InvoiceAging)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/credit-notes", h.IssueCreditNote)
			r.Post("/{id}/dispute", h.DisputeInvoice)
			r.Post("/{id}/dispute/resolve", h.ResolveDispute)
		})
		r.Post("/collections/run", h.RunDunning)

		// Retainer routes
		r.Route("/retainers", func(r chi.Router) {
			r.Post("/", h.OpenRetainer)
			r.Get("/low-balance", h.LowBalanceReport)
			r.Post("/{id}/deposits", h.DepositRetainer)
			r.Post("/{id}/drawdowns", h.DrawdownRetainer)
			r.Post("/{id}/interest", h.AccrueRetainerInterest)
		})

		// Recognition routes
		r.Route("/recognition", func(r chi.Router) {
			r.Post("/schedules", h.CreateSchedule)
			r.Post("/run", h.RunRecognition)
			r.Post("/schedules/{id}/trigger", h.TriggerSchedule)
			r.Get("/schedules/{id}/journals", h.ListJournals)
			r.Post("/journals/{id}/post", h.PostJournal)
			r.Post("/journals/{id}/reverse", h.ReverseJournal)
		})

		// Reports
		r.Get("/reports/realization", h.RealizationReport)
		r.Get("/runs", h.ListRuns)

		// Tenant configuration
		r.Post("/config", h.LoadConfig)

		// Demo scenarios
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// requestLog emits one structured line per request.
func requestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

package hrest

import (
	"net/http"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the REST surface.
func (h *LedgerRestHandler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", HeaderOwnerID, HeaderOwnerName},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireOwner)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/onboard", h.Onboard)
			r.Get("/", h.ListAccounts)
			r.Post("/", h.OpenAccount)
			r.Get("/{number}", h.GetAccount)
			r.Patch("/{number}/status", h.SetAccountStatus)
			r.Patch("/{number}/overdraft", h.SetOverdraft)
		})

		r.Post("/deposits", submit[domain.Deposit](h))
		r.Post("/withdrawals", submit[domain.Withdrawal](h))
		r.Post("/transfers", submit[domain.Transfer](h))
		r.Post("/bill-payments", submit[domain.BillPayment](h))
		r.Post("/check-orders", submit[domain.CheckOrder](h))

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/cancel", h.CancelTransaction)
			r.Get("/reference/{reference}", h.GetByReference)
		})

		r.Route("/confirmations", func(r chi.Router) {
			r.Get("/", h.ListConfirmations)
			r.Get("/{number}", h.GetConfirmation)
			r.Post("/{number}/downloaded", h.MarkDownloaded)
			r.Post("/{number}/printed", h.MarkPrinted)
		})
	})

	return r
}

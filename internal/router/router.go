package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/microtask/backend/internal/auth"
	"github.com/microtask/backend/internal/handlers"
	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/middleware"
	"github.com/microtask/backend/internal/models"
)

// Deps carries the handlers and guards the router wires together.
type Deps struct {
	Auth        *auth.Handler
	Tasks       *handlers.TaskHandler
	Submissions *handlers.SubmissionHandler
	Withdrawals *handlers.WithdrawalHandler
	Ledger      *handlers.LedgerHandler
	Verifier    middleware.TokenVerifier
	// RateLimiter is optional.
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// New returns an http.Handler that serves the API under /api/v1 plus
// /healthz and /metrics.
func New(d Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Instrument(d.Logger))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Fail(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Fail(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	public := api.NewRoute().Subrouter()
	if d.RateLimiter != nil {
		public.Use(d.RateLimiter.Handler)
	}
	public.HandleFunc("/auth/register", d.Auth.Register).Methods(http.MethodPost)
	public.HandleFunc("/auth/login", d.Auth.Login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Authenticate(d.Verifier))
	if d.RateLimiter != nil {
		authed.Use(d.RateLimiter.Handler)
	}

	buyer := middleware.RequireRole(models.RoleBuyer)
	worker := middleware.RequireRole(models.RoleWorker)
	admin := middleware.RequireRole(models.RoleAdmin)
	guard := func(g func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler { return g(h) }

	authed.HandleFunc("/account/me", d.Auth.Me).Methods(http.MethodGet)
	authed.HandleFunc("/credit-ledger", d.Ledger.Entries).Methods(http.MethodGet)

	authed.HandleFunc("/tasks", d.Tasks.ListOpen).Methods(http.MethodGet)
	authed.Handle("/tasks", guard(buyer, d.Tasks.CreateTask)).Methods(http.MethodPost)
	authed.HandleFunc("/tasks/{id}", d.Tasks.GetTask).Methods(http.MethodGet)
	authed.Handle("/tasks/{id}/cancel", guard(buyer, d.Tasks.CancelTask)).Methods(http.MethodPost)
	authed.Handle("/tasks/{id}/submissions", guard(worker, d.Submissions.Submit)).Methods(http.MethodPost)

	authed.Handle("/buyer/tasks", guard(buyer, d.Tasks.ListMine)).Methods(http.MethodGet)
	authed.Handle("/buyer/review-queue", guard(buyer, d.Submissions.ReviewQueue)).Methods(http.MethodGet)
	authed.Handle("/submissions/{id}/approve", guard(buyer, d.Submissions.Approve)).Methods(http.MethodPost)
	authed.Handle("/submissions/{id}/reject", guard(buyer, d.Submissions.Reject)).Methods(http.MethodPost)

	authed.Handle("/worker/submissions", guard(worker, d.Submissions.ListMine)).Methods(http.MethodGet)
	authed.Handle("/withdrawals", guard(worker, d.Withdrawals.Request)).Methods(http.MethodPost)
	authed.Handle("/withdrawals", guard(worker, d.Withdrawals.ListMine)).Methods(http.MethodGet)
	authed.Handle("/worker/payments", guard(worker, d.Withdrawals.Payments)).Methods(http.MethodGet)

	authed.Handle("/admin/withdrawals", guard(admin, d.Withdrawals.ListPending)).Methods(http.MethodGet)
	authed.Handle("/admin/withdrawals/{id}/settle", guard(admin, d.Withdrawals.Settle)).Methods(http.MethodPost)
	authed.Handle("/admin/withdrawals/{id}/reject", guard(admin, d.Withdrawals.Reject)).Methods(http.MethodPost)
	authed.Handle("/admin/transfers", guard(admin, d.Ledger.Transfer)).Methods(http.MethodPost)

	return r
}

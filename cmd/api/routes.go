package main

import (
	"log/slog"
	"net/http"

	"github.com/microtask/backend/internal/auth"
	"github.com/microtask/backend/internal/handlers"
	"github.com/microtask/backend/internal/ledger"
	"github.com/microtask/backend/internal/middleware"
	"github.com/microtask/backend/internal/router"
	"github.com/microtask/backend/internal/submissions"
	"github.com/microtask/backend/internal/tasks"
	"github.com/microtask/backend/internal/validation"
	"github.com/microtask/backend/internal/withdrawals"
)

type services struct {
	auth        auth.Service
	ledger      *ledger.Service
	tasks       *tasks.Engine
	submissions *submissions.Service
	withdrawals *withdrawals.Service
}

// buildRouter wires handlers onto the API router.
// Middleware chain: Instrument -> Authenticate -> RateLimit -> RequireRole -> handler.
func buildRouter(svc services, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	validator := validation.MustNewValidator()
	return router.New(router.Deps{
		Auth:        auth.NewHandler(svc.auth, validator, logger),
		Tasks:       &handlers.TaskHandler{Tasks: svc.tasks, Validator: validator, Logger: logger},
		Submissions: &handlers.SubmissionHandler{Submissions: svc.submissions, Validator: validator, Logger: logger},
		Withdrawals: &handlers.WithdrawalHandler{Withdrawals: svc.withdrawals, Validator: validator, Logger: logger},
		Ledger:      &handlers.LedgerHandler{Ledger: svc.ledger, Validator: validator, Logger: logger},
		Verifier:    svc.auth,
		RateLimiter: limiter,
		Logger:      logger,
	})
}

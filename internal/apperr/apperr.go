// Package apperr defines the error kinds shared by the ledger, task and
// withdrawal workflows and maps them onto HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyResolved     = errors.New("already resolved")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrValidation          = errors.New("validation error")
	// ErrTransient marks storage failures that are safe to retry for reads and idempotent writes.
	ErrTransient = errors.New("transient storage failure")
)

// Validation wraps ErrValidation with a field-level message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind returns a short machine-readable name for err's class.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrTransient):
		return "transient"
	}
	return "internal"
}

// HTTPStatus maps err onto a response code.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "invalid_state", "already_resolved", "duplicate_submission":
		return http.StatusConflict
	case "insufficient_funds":
		return http.StatusPaymentRequired
	case "validation_error":
		return http.StatusUnprocessableEntity
	case "transient":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Storage classifies a raw pgx error. Missing rows become ErrNotFound and
// retryable failures, including expired deadlines, are wrapped with
// ErrTransient. context.Canceled and anything else is returned as is.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	// A caller that cancelled has gone away; only deadlines are retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %v", ErrTransient, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

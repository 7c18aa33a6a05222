// Package httpjson writes JSON responses and maps domain errors onto them.
package httpjson

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/microtask/backend/internal/apperr"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Fail writes a plain error body with an explicit status.
func Fail(w http.ResponseWriter, status int, kind, msg string) {
	Write(w, status, ErrorResponse{Error: msg, Kind: kind})
}

// Error maps err to a status via apperr. Internal failures are logged and
// their detail is withheld from the client.
func Error(w http.ResponseWriter, log *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	msg := err.Error()
	switch {
	case status >= 500:
		if log != nil {
			log.Error("request failed", "kind", kind, "error", err)
		}
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	case log != nil:
		log.Info("request rejected", "kind", kind, "error", err)
	}
	Fail(w, status, kind, msg)
}

package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every failure through
// WriteError. Errors always have the same shape:
//
//	{"error": "not_found", "message": "Product not found."}

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/session"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// ErrorResponse is the error envelope of every API endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind, e.g. "not_found"
	Message string `json:"message"` // human-readable description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends data as JSON with the given status code. Headers must be
// set before the status is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// WriteError maps an error to its HTTP status and sends the error envelope.
//
//	ErrValidation → 400   ErrUnauthorized → 401   ErrForbidden → 403
//	ErrNotFound   → 404   ErrConflict     → 409
//	ErrUnavailable, ErrMalformed → 502 (the backend failed us)
//
// Anything else is a 500 whose details are not exposed.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUnavailable):
		status, errorType = http.StatusBadGateway, "backend_unavailable"
	case errors.Is(err, apperror.ErrMalformed):
		status, errorType = http.StatusBadGateway, "bad_gateway"
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// visitor returns the session attached by session.Manager.Middleware.
func visitor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		slog.Error("request reached a session route without a session", slog.String("path", r.URL.Path))
		WriteError(w, errors.New("missing session"))
	}
	return s, ok
}

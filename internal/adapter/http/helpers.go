package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/TenantForge/internal/domain"
)

const maxRequestBodySize = 64 << 10 // 64 KB

// headerCorrelationID carries the correlation id of the audited operation.
const headerCorrelationID = "X-Correlation-ID"

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit. Unknown fields are
// rejected so a typo never silently drops a value.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeErrorCode(w, http.StatusBadRequest, "invalid request body", domain.CauseInvalidInput)
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeErrorCode(w, http.StatusBadRequest, fieldName+" is required", domain.CauseInvalidInput)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Retryable     bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeRawJSON writes a body that is already encoded, byte for byte.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeErrorCode(w http.ResponseWriter, status int, message string, cause domain.Cause) {
	writeJSON(w, status, errorResponse{Error: message, Code: string(cause)})
}

// writeDomainError maps a workflow error to its status code. The body carries
// the stable cause code, the correlation id and whether a retry may succeed.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	de := domain.AsError(err)
	status := statusFor(de)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "cause", de.Cause, "error", err)
	}
	if de.CorrelationID != "" {
		w.Header().Set(headerCorrelationID, de.CorrelationID)
	}
	msg := de.Message
	if de.Cause == domain.CauseInternal {
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{
		Error:         msg,
		Code:          string(de.Cause),
		CorrelationID: de.CorrelationID,
		Retryable:     de.Retryable(),
	})
}

func statusFor(de *domain.Error) int {
	switch {
	case de.Cause == domain.CauseKeyReused:
		return http.StatusUnprocessableEntity
	case errors.Is(de, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(de, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(de, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(de, domain.ErrSafetyViolation):
		return http.StatusForbidden
	case errors.Is(de, domain.ErrVerification):
		return http.StatusInternalServerError
	case de.Cause == domain.CauseInternal:
		return http.StatusInternalServerError
	case errors.Is(de, domain.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

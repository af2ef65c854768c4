// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderledger/internal/platform/requestctx"
)

// Error is the JSON error envelope: error, message, status, request_id, trace_id and any details
// flattened next to them.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

// WithDetails attaches extra fields, copied so callers may reuse the map.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WriteError writes err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status

	requestID := err.RequestID
	if requestID == "" {
		requestID = clean(middleware.GetReqID(ctx), 80)
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = clean(requestctx.TraceID(ctx), 64)
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}

	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}

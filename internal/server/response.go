package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/eugener/wvgate/internal"
)

// Client-facing messages. Upstream details never reach the body.
const (
	msgInternal        = "Something went wrong!"
	msgNotFound        = "Not Found"
	msgNotAllowed      = "Method Not Allowed"
	msgUnauthenticated = "Not authenticated with Weverse"
	msgRateLimited     = "Too many requests, please try again later"
	msgAuthFailed      = "Authentication failed"
	msgAuthOK          = "Authentication successful"
	msgLoggedOut       = "Session cleared"
	msgProdForbidden   = "Not allowed in production"
	msgFlushed         = "Cache successfully flushed"
)

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json; charset=utf-8"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeRaw sends an already-encoded JSON payload.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure answers with the status errorStatus assigns to err and the
// client-facing msg. err itself is never written.
func writeFailure(w http.ResponseWriter, err error, msg string) {
	writeError(w, errorStatus(err), msg)
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, messageBody{Message: msg})
}

// errorStatus maps gateway errors to HTTP status codes. Unknown errors are 500.
func errorStatus(err error) int {
	switch {
	// Upstream failures stay 500 whatever the upstream's own error carries.
	case errors.Is(err, gateway.ErrUpstream), errors.Is(err, gateway.ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, gateway.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnauthenticated), errors.Is(err, gateway.ErrLoginRejected):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

package circuitbreaker

import (
	"context"
	"errors"
	"os"

	gateway "github.com/eugener/wvgate/internal"
)

// httpStatusError is an error carrying an upstream HTTP status code.
type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyError returns the error weight of a call outcome.
//
// Weights:
//   - nil, rejected login, 4xx (except 429) -> 0.0 (caller's fault)
//   - 429 -> 0.5
//   - 5xx, network errors -> 1.0
//   - timeout -> 1.5
//   - caller cancellation -> 0.0
func ClassifyError(err error) float64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, gateway.ErrLoginRejected) {
		return 0
	}

	var he httpStatusError
	if errors.As(err, &he) {
		return classifyStatus(he.HTTPStatus())
	}
	return 1.0
}

// classifyStatus returns the error weight for an HTTP status code.
func classifyStatus(code int) float64 {
	switch {
	case code == 429:
		return 0.5
	case code >= 500:
		return 1.0
	default:
		return 0.0
	}
}

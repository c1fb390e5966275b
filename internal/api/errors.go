// Package api provides common HTTP API utilities shared by the handler
// packages: the JSON error envelope, the lifecycle error mapping, and small
// response helpers.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/podgraph/podgraph-go/internal/lifecycle"
)

// Reason codes carried by errors raised at the HTTP layer itself, before a
// request reaches the lifecycle service. Lifecycle errors carry their own.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonBadRequest      = "bad_request"
	ReasonNotFound        = "not_found"
	ReasonRateLimited     = "rate_limited"
	ReasonInternalError   = "internal_error"
)

// ErrorEnvelope is the standard error response format.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information. Limit, Pending and
// RetryAfterSeconds appear only on quota and cooldown rejections.
type ErrorDetail struct {
	Code              string `json:"code"`        // HTTP status text (e.g., "forbidden")
	ReasonCode        string `json:"reason_code"` // Deterministic reason code
	Message           string `json:"message"`     // Human-readable message
	Limit             *int   `json:"limit,omitempty"`
	Pending           *int   `json:"pending,omitempty"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	writeEnvelope(w, statusCode, ErrorDetail{
		Code:       http.StatusText(statusCode),
		ReasonCode: reasonCode,
		Message:    message,
	})
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteTooManyRequests writes a 429 Too Many Requests error.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// WriteLifecycleError maps a lifecycle error onto the wire. Rate-limited
// errors carry limit/pending in the body and a Retry-After header when a
// retry time is known; terminal invites map to 410 rather than 404 so
// clients can distinguish "never existed" from "used up".
func WriteLifecycleError(w http.ResponseWriter, err error) {
	le := lifecycle.AsError(err)
	if le == nil {
		WriteInternalError(w, "internal error")
		return
	}

	status := statusForKind(le.Kind)
	detail := ErrorDetail{
		Code:       http.StatusText(status),
		ReasonCode: le.Reason,
		Message:    le.Message,
	}

	if le.Kind == lifecycle.KindRateLimited {
		if le.Limit != 0 {
			limit := le.Limit
			detail.Limit = &limit
		}
		if le.Pending != 0 {
			pending := le.Pending
			detail.Pending = &pending
		}
		if le.RetryAt != nil {
			secs := int(retryAfter(le).Seconds())
			if secs < 1 {
				secs = 1
			}
			detail.RetryAfterSeconds = &secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	writeEnvelope(w, status, detail)
}

func retryAfter(le *lifecycle.Error) time.Duration {
	return time.Until(*le.RetryAt)
}

func statusForKind(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindBadRequest:
		return http.StatusBadRequest
	case lifecycle.KindUnauthorized:
		return http.StatusUnauthorized
	case lifecycle.KindForbidden:
		return http.StatusForbidden
	case lifecycle.KindNotFound:
		return http.StatusNotFound
	case lifecycle.KindGone:
		return http.StatusGone
	case lifecycle.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorEnvelope{Error: detail})
}

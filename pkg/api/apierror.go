// Package api provides RFC 7807 Problem Detail error responses and shared HTTP middleware.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/interlock-labs/conduit/pkg/envelope"
)

// errorTypeBase prefixes the problem type URI; the status code completes it.
const errorTypeBase = "https://conduit.interlock-labs.dev/errors/%d"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the distributed trace for this request.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func newProblem(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf(errorTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, newProblem(status, title, detail))
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := newProblem(status, title, detail)
	problem.Instance = r.URL.Path
	problem.TraceID = w.Header().Get("X-Request-ID")
	writeProblem(w, problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response (used for idempotency).
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	// Log internally but never expose to client
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// FailureStatus maps a failed pipeline envelope onto the status returned
// to the caller. Vendor 4xx statuses pass through for auth and permanent
// failures; everything upstream-shaped surfaces as 502.
func FailureStatus(resp *envelope.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.Kind {
	case envelope.KindValidation:
		return http.StatusBadRequest
	case envelope.KindAuth, envelope.KindRefresh:
		if resp.StatusCode == http.StatusForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case envelope.KindNetworkBlocked:
		return http.StatusForbidden
	case envelope.KindRateLimited:
		return http.StatusTooManyRequests
	case envelope.KindPermanent:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return resp.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// WriteFailure writes a Problem Detail for a failed pipeline envelope,
// keeping the vendor's message as the detail.
func WriteFailure(w http.ResponseWriter, resp *envelope.Response) {
	status := FailureStatus(resp)
	WriteError(w, status, http.StatusText(status), resp.Error)
}

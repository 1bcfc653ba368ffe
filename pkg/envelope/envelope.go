// Package envelope defines the uniform response shape returned by every
// connector operation, together with the error-kind taxonomy used to decide
// retries and outbound HTTP status mapping.
package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for retry and HTTP-mapping decisions.
type Kind string

const (
	KindNone           Kind = ""
	KindValidation     Kind = "validation"
	KindAuth           Kind = "auth"
	KindNetworkBlocked Kind = "network_blocked"
	KindRateLimited    Kind = "rate_limited"
	KindTransient      Kind = "transient"
	KindPermanent      Kind = "permanent"
	KindRefresh        Kind = "refresh"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// Response is the envelope every transport call and handler returns.
// StatusCode 0 means the failure happened before any HTTP status was
// observed and is treated as retriable.
type Response struct {
	Success    bool              `json:"success"`
	Data       any               `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`

	// Kind never crosses the JSON boundary; the string form is preserved.
	Kind Kind `json:"-"`
}

// OK builds a success envelope.
func OK(data any, statusCode int, headers map[string]string) *Response {
	return &Response{Success: true, Data: data, StatusCode: statusCode, Headers: headers}
}

// Failure builds a failure envelope with an explicit kind.
func Failure(kind Kind, msg string, statusCode int) *Response {
	return &Response{Success: false, Error: msg, StatusCode: statusCode, Kind: kind}
}

// Failuref builds a failure envelope with a formatted message.
func Failuref(kind Kind, statusCode int, format string, args ...any) *Response {
	return Failure(kind, fmt.Sprintf(format, args...), statusCode)
}

// FromError converts an error into a failure envelope with statusCode 0.
// Context cancellation becomes a non-retriable "canceled" envelope.
func FromError(err error) *Response {
	if err == nil {
		return Failure(KindUnknown, "unknown error", 0)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failure(KindCanceled, "canceled", 0)
	}
	return Failure(KindUnknown, err.Error(), 0)
}

// KindForStatus classifies an upstream HTTP status.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindTransient
	case code == 0:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindNone
	}
}

// HTTPStatus maps an envelope onto the status code the inbound API should
// return. Upstream statuses are preserved where meaningful.
func HTTPStatus(r *Response) int {
	if r.Success {
		if r.StatusCode >= 200 && r.StatusCode <= 299 {
			return r.StatusCode
		}
		return http.StatusOK
	}
	switch r.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		if r.StatusCode == http.StatusForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindNetworkBlocked:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient, KindRefresh, KindCanceled, KindUnknown:
		return http.StatusBadGateway
	default:
		if r.StatusCode >= 400 && r.StatusCode <= 599 {
			return r.StatusCode
		}
		return http.StatusBadGateway
	}
}

// DataAs decodes the envelope's data into T through a JSON round trip.
// This is the typed variant of a raw request.
func DataAs[T any](r *Response) (T, error) {
	var out T
	if r == nil {
		return out, errors.New("nil response")
	}
	if !r.Success {
		return out, fmt.Errorf("response is a failure: %s", r.Error)
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return out, fmt.Errorf("encode data: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode data: %w", err)
	}
	return out, nil
}

// ErrorMessage extracts a message from an arbitrary error, nil-safe.
func ErrorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// Package httputil holds the JSON envelope helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"scanmap/pkg/platform/sentinel"
)

const maxBodyBytes = 1 << 20

// Error codes written in the "error" field.
const (
	CodeBadRequest       = "bad_request"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeForbidden        = "permission_denied"
	CodeUnavailable      = "unavailable"
	CodeTimeout          = "timeout"
	CodeInternal         = "internal_error"
	CodeMethodNotAllowed = "method_not_allowed"
)

// BadRequestError is returned by DecodeJSON and may be built by handlers for
// invalid input. Its message is shown to the client.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// BadRequest builds a client-visible validation error.
func BadRequest(format string, args ...any) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status maps an error to its HTTP status and error code.
func Status(err error) (int, string) {
	var bad *BadRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, sentinel.ErrInvalidState):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, sentinel.ErrPermissionDenied):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, sentinel.ErrTimeout):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, sentinel.ErrPoweredOff):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteError writes the error envelope. Internal errors carry no description.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Status(err)
	body := map[string]string{"error": code}
	if status != http.StatusInternalServerError {
		body["error_description"] = err.Error()
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads a bounded JSON body into T, rejecting unknown fields.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, BadRequest("invalid json body: %v", err)
	}
	return v, nil
}

package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scanmap/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, BadRequest("invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})
}

func TestStatus(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", sentinel.ErrNotFound):         http.StatusNotFound,
		fmt.Errorf("x: %w", sentinel.ErrInvalidState):     http.StatusConflict,
		fmt.Errorf("x: %w", sentinel.ErrPermissionDenied): http.StatusForbidden,
		fmt.Errorf("x: %w", sentinel.ErrTimeout):          http.StatusGatewayTimeout,
		fmt.Errorf("x: %w", sentinel.ErrUnavailable):      http.StatusServiceUnavailable,
		fmt.Errorf("x: %w", sentinel.ErrPoweredOff):       http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		if got, _ := Status(err); got != want {
			t.Errorf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		SSID string `json:"ssid"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ssid":"home"}`))
	got, err := DecodeJSON[payload](r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SSID != "home" {
		t.Fatalf("expected ssid home, got %q", got.SSID)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bssid":"x"}`))
	if _, err := DecodeJSON[payload](r); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	} else if status, _ := Status(err); status != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", status)
	}
}

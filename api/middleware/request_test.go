package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

func TestRequestIDReusesSaneHeader(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(RequestIDHeader)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "mobile-7f3a")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "mobile-7f3a" {
		t.Fatalf("expected caller id to be kept, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if got := resp.Header().Get(RequestIDHeader); got == "" || strings.Contains(got, " ") {
		t.Fatalf("expected generated id, got %q", got)
	}
}

func TestRecovererReturnsInternalEnvelope(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil wallet")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "nil wallet") {
		t.Fatalf("panic value leaked: %s", resp.Body.String())
	}
}

func TestRecovererRethrowsAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLoggingRecordsStatusAndBytes(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &out, Format: "json"})
	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", out.String(), err)
	}
	if line["status"] != float64(http.StatusAccepted) || line["bytes"] != float64(6) {
		t.Fatalf("unexpected fields: %v", line)
	}
	if line["level"] != "info" || line["path"] != "/api/v1/orders" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

// Package testutil holds helpers shared by the HTTP handler tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewLocalRequest builds a request that appears to come from loopback, as
// the debug routes require. A non-empty body is sent as JSON.
func NewLocalRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "127.0.0.1:54321"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON decodes the recorded body into a T, failing the test on
// malformed JSON.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// AssertJSONError checks the status and that the "error" field mentions
// want.
func AssertJSONError(t testing.TB, rec *httptest.ResponseRecorder, status int, want string) {
	t.Helper()
	AssertStatusCode(t, rec.Code, status)
	body := DecodeJSON[map[string]string](t, rec)
	if !strings.Contains(body["error"], want) {
		t.Errorf("error = %q, want it to mention %q", body["error"], want)
	}
}

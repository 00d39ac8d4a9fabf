package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                              "/",
		"/metrics":                                      "/metrics",
		"/v1/organizations":                             "/v1/organizations",
		"/v1/organizations/01hx":                        "/v1/organizations/:id",
		"/v1/organizations/01hx/members/01hy":           "/v1/organizations/:id/members/:id",
		"/v1/organizations/o/recipients/r/archive":      "/v1/organizations/:id/recipients/:id/archive",
		"/v1/organizations/o/payroll/preview?balance=1": "/v1/organizations/:id/payroll/preview",
		"/v1/organizations/o/payroll/runs/r/status":     "/v1/organizations/:id/payroll/runs/:id/status",
		"/v1/auth/challenge":                            "/v1/auth/challenge",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/organizations/:id", "202"))
	for _, id := range []string{"a", "b"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/organizations/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/organizations/:id", "202"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests counted, got %v", after-before)
	}
}

func TestLoggerWritesJSONWithServiceName(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Logger().Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["service"] != ServiceName || entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key: %v", entry)
	}
}

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "agron"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     int
		wantErr  bool
	}{
		{"host port", "otel-collector:4318", 2, false},
		{"http url", "http://otel-collector:4318", 2, false},
		{"https with path", "https://collector.example.com/v1/traces", 2, false},
		{"http with path", "http://collector:4318/custom", 3, false},
		{"broken url", "http://", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := exporterOptions(tc.endpoint)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if len(opts) != tc.want {
				t.Fatalf("opts=%d want %d", len(opts), tc.want)
			}
		})
	}
}

func TestMiddleware_PassesThrough(t *testing.T) {
	var traced string
	h := Middleware("agron")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traced = TraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rec.Code)
	}
	if traced != "" {
		t.Fatalf("no-op provider produced trace id %q", traced)
	}
}

func TestNameByRoute_UsesPattern(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r := chi.NewRouter()
	r.Use(NameByRoute)
	r.Put("/admin/users/{userID}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		if TraceID(r.Context()) == "" {
			t.Errorf("no trace id inside a recorded span")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware("agron", otelhttp.WithTracerProvider(tp))(r)

	tests := []struct {
		method, path, want string
	}{
		{http.MethodPut, "/admin/users/01HZX3K6Q8M2/roles/Admin", "PUT /admin/users/{userID}/roles/{role}"},
		{http.MethodPut, "/admin/users/01HZX3K6Q8M3/roles/Learner", "PUT /admin/users/{userID}/roles/{role}"},
		{http.MethodGet, "/no/such/route", "HTTP GET"},
	}
	for _, tc := range tests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))
	}

	ended := rec.Ended()
	if len(ended) != len(tests) {
		t.Fatalf("spans=%d want %d", len(ended), len(tests))
	}
	for i, tc := range tests {
		if got := ended[i].Name(); got != tc.want {
			t.Fatalf("%s %s: span name %q want %q", tc.method, tc.path, got, tc.want)
		}
	}
}

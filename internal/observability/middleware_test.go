package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installTestProviders(t *testing.T) (*tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()

	spans := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})
	return spans, reader
}

func newInstrumentedRouter(t *testing.T) http.Handler {
	t.Helper()
	metrics, err := NewHTTPMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(TracingMiddleware("securetrack-test"))
	r.Use(MetricsMiddleware(metrics))
	r.Get("/api/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	return r
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestTracingMiddleware(t *testing.T) {
	spans, _ := installTestProviders(t)
	router := newInstrumentedRouter(t)

	t.Run("span is named after the matched route", func(t *testing.T) {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contacts/bob", nil))

		ended := spans.Ended()
		require.NotEmpty(t, ended)
		span := ended[len(ended)-1]
		assert.Equal(t, "GET /api/contacts/{id}", span.Name())

		route, ok := attrValue(span.Attributes(), "http.route")
		require.True(t, ok)
		assert.Equal(t, "/api/contacts/{id}", route)
		status, _ := attrValue(span.Attributes(), "http.status_code")
		assert.Equal(t, "204", status)
	})

	t.Run("access token never reaches span attributes", func(t *testing.T) {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ws?feeds=push&access_token=secret.jwt.value", nil))

		ended := spans.Ended()
		require.NotEmpty(t, ended)
		span := ended[len(ended)-1]
		for _, kv := range span.Attributes() {
			assert.NotContains(t, kv.Value.Emit(), "secret.jwt.value", string(kv.Key))
		}
		url, ok := attrValue(span.Attributes(), "http.url")
		require.True(t, ok)
		assert.Contains(t, url, "access_token=REDACTED")
		assert.Contains(t, url, "feeds=push")
	})
}

func TestMetricsMiddleware_RouteLabel(t *testing.T) {
	_, reader := installTestProviders(t)
	router := newInstrumentedRouter(t)

	for _, id := range []string{"alice", "bob", "carol"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contacts/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var points []metricdata.DataPoint[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "http.server.request_count" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				points = append(points, sum.DataPoints...)
			}
		}
	}

	require.Len(t, points, 1)
	route, ok := points[0].Attributes.Value("http.route")
	require.True(t, ok)
	assert.Equal(t, "/api/contacts/{id}", route.AsString())
	assert.Equal(t, int64(3), points[0].Value)
}

func TestRedactedURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	assert.Equal(t, "/api/health", redactedURL(r))

	r = httptest.NewRequest(http.MethodGet, "/api/ws?token=abc", nil)
	assert.Equal(t, "/api/ws?token=REDACTED", redactedURL(r))
}

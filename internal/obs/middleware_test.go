package obs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/toko-rates/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("rates", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Post("/api/v1/quotes", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/quotes", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/quotes", "422"))
	require.Equal(t, float64(1), total)
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))

	again := obs.NewHTTPMetrics("rates", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal, "collectors are reused on re-registration")
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/boom/{id}", func(w http.ResponseWriter, req *http.Request) {
		obs.Annotate(req.Context(), "zone", "MEL")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := httptest.NewRequest(http.MethodGet, "/boom/7", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.EqualValues(t, 503, entry["status"])
	require.Equal(t, "10.1.1.1", entry["client_ip"])
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, "/boom/{id}", entry["route"])
	require.Equal(t, "MEL", entry["zone"])
}

func TestAnnotateWithoutLoggerIsNoop(t *testing.T) {
	t.Parallel()
	obs.Annotate(context.Background(), "zone", "MEL")

	ctx, annotations := obs.WithAnnotations(context.Background())
	obs.Annotate(ctx, "snapshot_version", "3")
	obs.Annotate(ctx, "zone", "SYD")
	var keys []string
	annotations.Each(func(key, _ string) { keys = append(keys, key) })
	require.Equal(t, []string{"snapshot_version", "zone"}, keys)
}

func TestDomainMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("rates", registry)

	before := testutil.ToFloat64(obs.QuotesTotal.WithLabelValues("ok"))
	obs.ObserveQuote("ok")
	require.Equal(t, before+1, testutil.ToFloat64(obs.QuotesTotal.WithLabelValues("ok")))

	obs.ObserveSnapshotReload("ok", 12, 4)
	require.Equal(t, float64(4), testutil.ToFloat64(obs.SnapshotVersion))
}

func TestPGXTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tracer := obs.PGXTracer{}
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "select code\n  from shipping_zones"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 4")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "select 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("relation does not exist")})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	var statement, operation string
	for _, kv := range spans[0].Attributes() {
		switch kv.Key {
		case "db.statement":
			statement = kv.Value.AsString()
		case "db.operation":
			operation = kv.Value.AsString()
		}
	}
	require.Equal(t, "select code from shipping_zones", statement)
	require.Equal(t, "SELECT", operation)
	require.Len(t, spans[1].Events(), 1, "error recorded as span event")
}

package quote_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-rates/internal/quote"
	"github.com/noah-isme/toko-rates/internal/snapshot"
)

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newRouter(t *testing.T, src quote.Source) http.Handler {
	t.Helper()
	h := quote.NewHandler(quote.HandlerConfig{Engine: newEngine(t, src, nil), Logger: zerolog.Nop()})
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestQuoteEndpoint(t *testing.T) {
	t.Parallel()

	r := newRouter(t, &stubSource{snap: fixture(t)})
	rec := post(t, r, "/api/v1/quotes", `{
		"shippingAddress": {"country": "AU", "state": "NSW", "postcode": "2000"},
		"items": [
			{"sku": "BOOK-1", "quantity": 2, "unitPrice": "20.00", "category": "books", "weightKg": "1"},
			{"sku": "MAP-1", "quantity": 1, "unitPrice": "5.00", "taxClass": "zero", "category": "books", "weightKg": "0.5"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data quote.Quote `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PARCEL", body.Data.Selected)
	require.True(t, body.Data.GrandTotal.Equal(dec("61.60")))
}

func TestQuoteEndpointErrors(t *testing.T) {
	t.Parallel()

	r := newRouter(t, &stubSource{snap: fixture(t)})

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"items": [`, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", `{"shippingAddress": {"country": "AU"}, "items": [], "coupon": "X"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing items", `{"shippingAddress": {"country": "AU"}, "items": []}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{
			"unknown destination",
			`{"shippingAddress": {"country": "US", "postcode": "10001"}, "items": [{"quantity": 1, "unitPrice": "1", "weightKg": "1"}]}`,
			http.StatusNotFound, "ZONE_NOT_FOUND",
		},
		{
			"no service for zone",
			`{"shippingAddress": {"country": "NZ", "postcode": "1010"}, "items": [{"quantity": 1, "unitPrice": "1", "weightKg": "1"}]}`,
			http.StatusUnprocessableEntity, "NO_SHIPPABLE_SERVICE",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, r, "/api/v1/quotes", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, decodeError(t, rec).Error.Code)
		})
	}
}

func TestQuoteEndpointListsServiceFailures(t *testing.T) {
	t.Parallel()

	r := newRouter(t, &stubSource{snap: fixture(t)})
	rec := post(t, r, "/api/v1/quotes", `{
		"shippingAddress": {"country": "AU", "postcode": "2000"},
		"items": [{"quantity": 1, "unitPrice": "10", "category": "books", "weightKg": "1"}],
		"dimensions": {"lengthMm": "1500", "widthMm": "200", "heightMm": "200"}
	}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var failures []quote.ServiceFailure
	require.NoError(t, json.Unmarshal(decodeError(t, rec).Error.Details, &failures))
	require.Len(t, failures, 2)
	require.Equal(t, quote.ReasonDimensionsExceeded, failures[0].Reason)
}

func TestSnapshotUnavailableIs503(t *testing.T) {
	t.Parallel()

	r := newRouter(t, &stubSource{err: snapshot.ErrUnavailable})
	rec := post(t, r, "/api/v1/zones/resolve", `{"country": "AU", "postcode": "2000"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "SNAPSHOT_UNAVAILABLE", decodeError(t, rec).Error.Code)
}

func TestZoneShippingAndTaxEndpoints(t *testing.T) {
	t.Parallel()

	r := newRouter(t, &stubSource{snap: fixture(t)})

	rec := post(t, r, "/api/v1/zones/resolve", `{"country": "AU", "state": "VIC", "postcode": "3000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"MEL"`)

	rec = post(t, r, "/api/v1/zones/resolve", `{"country": "AUS"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", decodeError(t, rec).Error.Code)

	rec = post(t, r, "/api/v1/shipping/price", `{"serviceCode": "PARCEL", "zoneCode": "SYD", "weightKg": "2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":"11.45"`)

	rec = post(t, r, "/api/v1/shipping/price", `{"serviceCode": "SEA", "zoneCode": "SYD", "weightKg": "2"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "SERVICE_NOT_FOUND", decodeError(t, rec).Error.Code)

	rec = post(t, r, "/api/v1/shipping/price", `{"serviceCode": "EXPRESS", "zoneCode": "AU-REST", "weightKg": "2"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "NO_RATE_AVAILABLE", decodeError(t, rec).Error.Code)

	rec = post(t, r, "/api/v1/tax/calculate", `{"subtotal": "100", "country": "AU"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":"10"`)
}

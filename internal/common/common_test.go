package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-rates/internal/common"
)

var errMissing = errors.New("zone missing")

func TestErrorMapResolve(t *testing.T) {
	t.Parallel()
	m := common.ErrorMap{
		{Target: errMissing, Status: http.StatusNotFound, Code: "ZONE_NOT_FOUND",
			Details: func(err error) any { return map[string]string{"cause": err.Error()} }},
	}

	appErr, ok := m.Resolve(fmt.Errorf("resolve AU: %w", errMissing))
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
	require.Equal(t, "ZONE_NOT_FOUND", appErr.Code)
	require.Equal(t, "resolve AU: zone missing", appErr.Message)
	require.ErrorIs(t, appErr, errMissing)
	require.NotNil(t, appErr.Details)

	explicit := common.NewAppError("CONFLICT", "already changed", http.StatusConflict, errMissing)
	appErr, ok = m.Resolve(fmt.Errorf("wrapped: %w", explicit))
	require.True(t, ok)
	require.Same(t, explicit, appErr, "an AppError in the chain wins over the rules")

	_, ok = m.Resolve(errors.New("boom"))
	require.False(t, ok)
}

func TestWriteAppError(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, common.NewAppError("NO_RATE_AVAILABLE", "no tier", http.StatusUnprocessableEntity, nil))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.JSONEq(t, `{"error":{"code":"NO_RATE_AVAILABLE","message":"no tier"}}`, rr.Body.String())
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		headers map[string]string
		remote  string
		want    string
	}{
		"forwarded first hop": {headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:80", want: "203.0.113.7"},
		"garbage forwarded":   {headers: map[string]string{"X-Forwarded-For": "not-an-ip"}, remote: "10.0.0.2:80", want: "10.0.0.2"},
		"real ip":             {headers: map[string]string{"X-Real-IP": "2001:db8::1"}, remote: "10.0.0.1:80", want: "2001:db8::1"},
		"remote addr":         {remote: "192.0.2.4:1234", want: "192.0.2.4"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, common.ClientIP(req))
		})
	}
}

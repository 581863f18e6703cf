package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h HealthService, path string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	ok := Check{Name: "ok", Check: func(context.Context) error { return nil }}
	down := Check{Name: "projector", Check: func(context.Context) error { return errors.New("halted") }}

	w := serve(New(ok), "/readyz")
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(New(ok, down), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, StatusUnhealthy, body.Status)
	require.Len(t, body.Deps, 2)
	require.Equal(t, "halted", body.Deps[1].Message)

	w = serve(New(down), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReady(t *testing.T) {
	require.NoError(t, New().Ready(context.Background()))

	down := Check{Name: "projector", Check: func(context.Context) error { return errors.New("halted") }}
	err := New(down).Ready(context.Background())
	require.EqualError(t, err, "projector: halted")
}

package web_service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zekkrron/db-connection-pooler/pkg/backend"
)

func TestPoolStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pool := backend.NewScanCasPool(4)
	handler := NewPoolStatusHandler([]PoolEntry{
		{Role: "master", Addr: "127.0.0.1:5432", Pool: pool},
	}, nil)

	r := gin.New()
	r.GET(handler.Path(), handler.Handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pools", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.Code)

	data := resp.Data.(map[string]any)
	pools := data["pools"].([]any)
	require.Len(t, pools, 1)
	entry := pools[0].(map[string]any)
	assert.Equal(t, "master", entry["role"])
	assert.Equal(t, "cas", entry["variant"])
	assert.Equal(t, float64(0), entry["size"])
	assert.Equal(t, float64(4), entry["capacity"])
}

func TestHealthCheckHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &HealthCheckHandler{}
	assert.Equal(t, "/healthz", h.Path())
	assert.Equal(t, GET, h.Method())

	r := gin.New()
	r.GET(h.Path(), h.Handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

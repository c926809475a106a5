package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decodeJSON(w *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(w.Body.Bytes(), v)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestLogger_Levels(t *testing.T) {
	log, logs := observed()
	r := gin.New()
	r.Use(TraceID(), Logger(log, "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, p := range []string{"/health", "/ok", "/missing", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3, "health checks are not logged")
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "/boom", entries[2].ContextMap()["path"])
	assert.NotEmpty(t, entries[0].ContextMap()["trace_id"])
}

func TestRecovery_ReturnsTraceID(t *testing.T) {
	log, logs := observed()
	r := gin.New()
	r.Use(TraceID(), Recovery(log))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(TraceIDHeader, "trace-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, decodeJSON(w, &body))
	assert.Equal(t, "trace-panic", body["trace_id"])

	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecovery_PassThrough(t *testing.T) {
	log, logs := observed()
	r := gin.New()
	r.Use(Recovery(log))
	r.GET("/fine", func(c *gin.Context) { c.String(http.StatusOK, "fine") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fine", nil))
	assert.Equal(t, "fine", w.Body.String())
	assert.Zero(t, logs.Len())
}

func newAdminRouter(key string) *gin.Engine {
	r := gin.New()
	r.Use(AdminKey(key))
	r.POST("/reset", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func adminPost(r *gin.Engine, key string) int {
	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	if key != "" {
		req.Header.Set(AdminKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAdminKey(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, adminPost(newAdminRouter(""), "anything"))

	r := newAdminRouter("secret")
	assert.Equal(t, http.StatusUnauthorized, adminPost(r, ""))
	assert.Equal(t, http.StatusUnauthorized, adminPost(r, "wrong"))
	assert.Equal(t, http.StatusNoContent, adminPost(r, "secret"))
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func newTraceRouter() *gin.Engine {
	r := gin.New()
	r.Use(TraceID())
	r.GET("/trace", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"gin": GetTraceID(c),
			"ctx": TraceIDFrom(c.Request.Context()),
		})
	})
	return r
}

func traceOf(t *testing.T, r *gin.Engine, header string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	if header != "" {
		req.Header.Set(TraceIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct{ Gin, Ctx string }
	require.NoError(t, decodeJSON(w, &body))
	assert.Equal(t, body.Gin, body.Ctx, "gin and request context must agree")
	return body.Gin, w
}

func TestTraceID_Generated(t *testing.T) {
	id, w := traceOf(t, newTraceRouter(), "")
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Header().Get(TraceIDHeader))
}

func TestTraceID_Provided(t *testing.T) {
	id, w := traceOf(t, newTraceRouter(), "my-custom-trace")
	assert.Equal(t, "my-custom-trace", id)
	assert.Equal(t, "my-custom-trace", w.Header().Get(TraceIDHeader))
}

func TestTraceID_OversizedHeaderReplaced(t *testing.T) {
	id, _ := traceOf(t, newTraceRouter(), strings.Repeat("x", 200))
	assert.Len(t, id, 36)
}

func TestTraceID_UniquePerRequest(t *testing.T) {
	r := newTraceRouter()
	a, _ := traceOf(t, r, "")
	b, _ := traceOf(t, r, "")
	assert.NotEqual(t, a, b)
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetTraceID(c))
	assert.Equal(t, "", TraceIDFrom(context.Background()))
}

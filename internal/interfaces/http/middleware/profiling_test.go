package middleware

import (
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestProfilingLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(enabled bool, path string) (string, bool) {
		var route string
		var ok bool
		r := gin.New()
		r.Use(ProfilingLabels(enabled))
		r.GET("/payments/:id", func(c *gin.Context) {
			route, ok = pprof.Label(c.Request.Context(), "route")
			c.Status(http.StatusOK)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		return route, ok
	}

	route, ok := serve(true, "/payments/42")
	assert.True(t, ok)
	assert.Equal(t, "/payments/:id", route)

	_, ok = serve(false, "/payments/42")
	assert.False(t, ok)
}

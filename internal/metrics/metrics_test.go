package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "2xx", statusLabel(200))
	assert.Equal(t, "3xx", statusLabel(302))
	assert.Equal(t, "4xx", statusLabel(429))
	assert.Equal(t, "5xx", statusLabel(503))
}

func TestMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.POST("/api/auth/sign-in/email", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/auth/sign-in/email", "2xx"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in/email", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/auth/sign-in/email", "2xx"))
	assert.Equal(t, before+1, after)
}

func TestHandlerServesScrape(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "authgate_http_requests_total")
}

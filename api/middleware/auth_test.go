package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/onboarding/config"
)

func testRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"actor": Actor(c)}) }
	r.GET("/cases", ok)
	r.POST("/cases", ok)
	return r
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		secret       string
		header       string
		expectedCode int
	}{
		{name: "Valid key", secret: "master-key", header: "master-key", expectedCode: http.StatusOK},
		{name: "Missing key", secret: "master-key", expectedCode: http.StatusUnauthorized},
		{name: "Wrong key", secret: "master-key", header: "guess", expectedCode: http.StatusUnauthorized},
		{name: "Server without key", secret: "", header: "anything", expectedCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testRouter(SecretKeyAuthMiddleware(tt.secret))
			req := httptest.NewRequest(http.MethodGet, "/cases", nil)
			if tt.header != "" {
				req.Header.Set(KeyHeader, tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestActorMiddleware(t *testing.T) {
	router := testRouter(ActorMiddleware())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/cases", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/cases", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	req := httptest.NewRequest(http.MethodPost, "/cases", nil)
	req.Header.Set(ActorHeader, "ops-1")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"actor":"ops-1"}`, resp.Body.String())
}

func TestRateLimitMiddlewareAllowsFirstRequest(t *testing.T) {
	rps := 1.0
	burst := 1
	cleanup := 60
	conf := &config.Configuration{RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst, CleanupIntervalSec: &cleanup}}
	router := testRouter(RateLimitMiddleware(conf))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/cases", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	router := testRouter(RateLimitMiddleware(&config.Configuration{}))
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/cases", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const secret = "test-secret"

func signed(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func protectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/private", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("accountID"))
	})
	return router
}

func TestJWTAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"valid", "Bearer " + signed(t, secret, jwt.MapClaims{"account_id": "a1", "exp": exp}), http.StatusOK, "a1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"bad format", "Token abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signed(t, "other", jwt.MapClaims{"account_id": "a1", "exp": exp}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signed(t, secret, jwt.MapClaims{"account_id": "a1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"missing exp", "Bearer " + signed(t, secret, jwt.MapClaims{"account_id": "a1"}), http.StatusUnauthorized, ""},
		{"empty account", "Bearer " + signed(t, secret, jwt.MapClaims{"account_id": "", "exp": exp}), http.StatusUnauthorized, ""},
	}

	router := protectedRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRateLimitReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit())
	router.POST("/api/v1/auth/token", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(ip string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		req.RemoteAddr = ip + ":1234"
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2"), "limits are per client")
}

func TestLimitFor(t *testing.T) {
	limit, burst := limitFor("/api/v1/trade/buy")
	assert.Equal(t, tradingLimit, limit)
	assert.Equal(t, 5, burst)

	limit, _ = limitFor("/metrics")
	assert.Equal(t, rate.Inf, limit)
}

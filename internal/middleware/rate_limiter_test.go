package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestContext(target string, header map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c, w
}

func TestCallerKeyPrefersAgentIDOverIP(t *testing.T) {
	c, _ := newTestContext("/wallets?agent_id=agent-1", nil)
	require.Equal(t, "agent:agent-1", callerKey(c))
}

func TestCallerKeyFallsBackToIPWithoutAgentIdentity(t *testing.T) {
	c, _ := newTestContext("/wallets", nil)
	c.Request.RemoteAddr = "203.0.113.5:4711"
	require.Equal(t, "ip:203.0.113.5", callerKey(c))
}

func TestRateLimiterMiddlewareThrottlesPerCallerNotGlobally(t *testing.T) {
	handler := RateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1})

	c1, w1 := newTestContext("/wallets?agent_id=agent-1", nil)
	handler(c1)
	require.Equal(t, http.StatusOK, w1.Code)

	c1Again, w1Again := newTestContext("/wallets?agent_id=agent-1", nil)
	handler(c1Again)
	require.Equal(t, http.StatusTooManyRequests, w1Again.Code)

	// A distinct agent has its own bucket and is unaffected by agent-1's burst.
	c2, w2 := newTestContext("/wallets?agent_id=agent-2", nil)
	handler(c2)
	require.Equal(t, http.StatusOK, w2.Code)
}

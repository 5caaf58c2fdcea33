// Package middleware holds transport-level gin middleware that runs
// ahead of the policy engine's per-tool journal check — a coarse
// in-memory throttle guarding the HTTP surface itself, so a single
// noisy caller can't exhaust connections before its calls ever reach
// internal/policy. Unlike internal/policy.Engine, which buckets by
// (tool, agent) against the durable event journal, this layer has no
// database and exists purely to shed load before a request is even
// parsed enough to know which tool it's calling.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures rate limiting behavior
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// rateLimiterMap stores rate limiters per caller identity: an agent
// ID when the request declares one, otherwise the source IP. Keying
// off agent ID first means one agent can't be starved by another's
// traffic sharing the same NAT'd address, and an agent's budget
// follows it across proxies.
type rateLimiterMap struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	config   RateLimiterConfig
}

// NewRateLimiterMap creates a new rate limiter map
func NewRateLimiterMap(config RateLimiterConfig) *rateLimiterMap {
	rl := &rateLimiterMap{
		limiters: make(map[string]*rate.Limiter),
		config:   config,
	}

	// Clean up old limiters periodically
	go rl.cleanup()

	return rl
}

// getLimiter returns or creates a rate limiter for the given caller key.
func (rl *rateLimiterMap) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
		rl.limiters[key] = limiter
	}

	return limiter
}

// cleanup removes old limiters periodically to prevent memory leaks
func (rl *rateLimiterMap) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		// Drop every limiter at once when more than 1000 have
		// accumulated; active and idle buckets alike are rebuilt on the
		// caller's next request.
		// In a production environment, you might want more sophisticated cleanup
		if len(rl.limiters) > 1000 {
			// Reset if too many limiters accumulated
			rl.limiters = make(map[string]*rate.Limiter)
		}
		rl.mu.Unlock()
	}
}

// callerKey identifies the throttled party: the declared agent
// identity (query param, path param, then header, mirroring
// internal/handlers.agentIDFrom) when present, falling back to the
// source IP for calls made before an agent identity is known, such as
// a wallet creation request.
func callerKey(c *gin.Context) string {
	if v := c.Query("agent_id"); v != "" {
		return "agent:" + v
	}
	if v := c.Param("agent_id"); v != "" {
		return "agent:" + v
	}
	if v := c.GetHeader("X-Agent-Id"); v != "" {
		return "agent:" + v
	}
	return "ip:" + c.ClientIP()
}

// RateLimiterMiddleware creates a rate limiting middleware
func RateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	limiterMap := NewRateLimiterMap(config)

	return func(c *gin.Context) {
		limiter := limiterMap.getLimiter(callerKey(c))

		// Check if request is allowed
		if !limiter.Allow() {
			reservation := limiter.Reserve()
			retryAfter := reservation.DelayFrom(time.Now()).Seconds()
			reservation.Cancel() // Cancel the reservation since we're rejecting the request

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded. Please try again later.",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

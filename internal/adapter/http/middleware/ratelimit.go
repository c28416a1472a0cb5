package middleware

import (
	"strconv"
	"time"

	redisStore "solana-forensics/internal/adapter/storage/redis"
	"solana-forensics/pkg/apperror"
	"solana-forensics/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the limits per endpoint group. Traces and
// exports are the expensive operations and share the configured per-minute
// budget.
func DefaultRateLimitRules(expensivePerMinute int) map[string]RateLimitRule {
	if expensivePerMinute <= 0 {
		expensivePerMinute = 30
	}
	return map[string]RateLimitRule{
		"auth_login": {Limit: 10, Window: time.Minute},
		"traces":     {Limit: int64(expensivePerMinute), Window: time.Minute},
		"exports":    {Limit: int64(expensivePerMinute), Window: time.Minute},
		"read":       {Limit: 300, Window: time.Minute},
		"write":      {Limit: 60, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Store failures fail open.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractIdentifier(c) + ":" + group

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys authenticated requests by investigator and
// everything else by client IP.
func extractIdentifier(c *gin.Context) string {
	if id := c.GetString(CtxInvestigatorID); id != "" {
		return "inv:" + id
	}
	return "ip:" + c.ClientIP()
}

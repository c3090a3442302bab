package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const AccountHeader = "X-Account-ID"

// RateLimiter admits at most one request per interval for each account
// named in the X-Account-ID header.
type RateLimiter struct {
	clients map[string]time.Time
	mu      sync.Mutex
	limit   time.Duration
	now     func() time.Time
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]time.Time),
		limit:   limit,
		now:     time.Now,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader(AccountHeader)
		if accountID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": AccountHeader + " header required"})
			return
		}
		if !r.allow(accountID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Set("account_id", accountID)
		c.Next()
	}
}

func (r *RateLimiter) allow(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	last, exists := r.clients[accountID]
	if exists && now.Sub(last) < r.limit {
		return false
	}
	r.clients[accountID] = now
	return true
}

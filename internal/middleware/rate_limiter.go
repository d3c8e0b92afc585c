package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/careflow/clinical-records/internal/handler"
)

type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
}

// RateLimiter throttles per client IP so one busy dashboard cannot starve
// the rest of the clinic. Idle entries are evicted after ttl.
type RateLimiter struct {
	config  RateLimiterConfig
	mu      sync.Mutex
	clients map[string]*clientLimiter
	ttl     time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientLimiter),
		ttl:     10 * time.Minute,
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				handler.NewErrorResponse("rate limit exceeded"))
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	cl, ok := rl.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	rl.mu.Unlock()
	return cl.limiter.Allow()
}

func (rl *RateLimiter) evictLoop() {
	for range time.Tick(rl.ttl) {
		cutoff := time.Now().Add(-rl.ttl)
		rl.mu.Lock()
		for ip, cl := range rl.clients {
			if cl.lastSeen.Before(cutoff) {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

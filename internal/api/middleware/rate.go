package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/config"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int

	// IdleTTL is how long a client's limiter survives without requests.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the limits used when nothing is configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

// RateLimitFrom converts the loaded configuration.
func RateLimitFrom(cfg config.RateLimitConfig) RateLimitConfig {
	out := DefaultRateLimitConfig()
	out.RequestsPerSecond = cfg.RequestsPerSecond
	out.Burst = cfg.Burst
	return out
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters hands out one token bucket per key and forgets idle ones.
type limiters struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	clients map[string]*client
	swept   time.Time
	now     func() time.Time
}

func newLimiters(cfg RateLimitConfig) *limiters {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &limiters{cfg: cfg, clients: make(map[string]*client), now: time.Now}
}

func (l *limiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.cfg.IdleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (l *limiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func tooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"error":   "rate limit exceeded",
	})
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(newLimiters(cfg))
}

func rateLimit(l *limiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			tooMany(c)
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			tooMany(c)
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64 // per client IP; 0 disables the limiter
	Burst             int
	MaxConcurrent     int // across all clients; 0 means unlimited
}

// rateLimiterStore stores per-IP limiters and forgets idle ones
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
	idle      time.Duration
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*clientLimiter),
		rate:      r,
		burstSize: burst,
		idle:      5 * time.Minute,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) > s.idle {
		for k, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > s.idle {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	cl, exists := s.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// clientIP extracts the IP part from the request's remote address
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit applies per-IP token buckets and an optional global
// concurrency cap.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 && cfg.MaxConcurrent <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	var store *rateLimiterStore
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		store = newRateLimiterStore(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	var globalSem chan struct{}
	if cfg.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if store != nil {
			limiter := store.getLimiter(clientIP(c.Request))
			if !limiter.Allow() {
				retryAfter := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.999)))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error": "rate limit exceeded",
				})
				return
			}
		}
		c.Next()
	}
}

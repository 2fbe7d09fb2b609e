package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aipriceaction/priceproxy/pkg/metrics"
)

// Public gossip admission budget, per source IP. The bucket refills at
// publicRate tokens per second and holds at most publicBurst.
const (
	publicRate  rate.Limit = 10
	publicBurst            = 20

	limiterTTL      = time.Hour
	cleanupInterval = 5 * time.Minute
)

// visitor pairs a token bucket with its last use so idle entries can be
// evicted.
type visitor struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ipRateLimiter hands every source IP its own token bucket. State is
// per-node and in-memory; each node enforces its own budget.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	log      *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newIPRateLimiter(log *zap.Logger) *ipRateLimiter {
	rl := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		log:      log,
		stopChan: make(chan struct{}),
	}
	rl.wg.Add(1)
	go rl.cleanupLoop()
	return rl
}

// Stop terminates the cleanup goroutine.
func (rl *ipRateLimiter) Stop() {
	close(rl.stopChan)
	rl.wg.Wait()
}

func (rl *ipRateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup removes buckets idle longer than the TTL.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-limiterTTL)
	for ip, v := range rl.visitors {
		if v.lastAccess.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}

	rl.log.Debug("rate limiter cleanup completed",
		zap.Int("active_ip_limiters", len(rl.visitors)))
}

// allow reports whether the IP may proceed right now, creating its bucket
// on first sight.
func (rl *ipRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(publicRate, publicBurst)}
		rl.visitors[ip] = v
	}
	v.lastAccess = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Middleware rejects over-budget sources with 429 before any other
// public-gossip logic runs, so even banned or stale-system callers see the
// rate limit first.
func (rl *ipRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.allow(ip) {
			metrics.RateLimited.Inc()
			rl.log.Warn("public gossip rate limit exceeded", zap.String("ip", ip))

			c.Header("X-RateLimit-Limit", strconv.Itoa(int(publicRate)))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "public gossip rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

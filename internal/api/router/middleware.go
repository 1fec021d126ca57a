package router

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/reservation-import/internal/api/dto"
	"github.com/cuongbtq/reservation-import/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LoggerMiddleware logs HTTP requests with slog and counts them per route
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint, strconv.Itoa(status))

		logger.Info("HTTP Request",
			slog.Int("status", status),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		// Log errors if any
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing for the given
// origins. An empty list allows every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}

	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}

// limiterIdleTTL is how long a client keeps its bucket without sending requests
const limiterIdleTTL = 3 * time.Minute

// clientLimiter hands out one token bucket per client IP. Buckets idle for
// longer than idleTTL are dropped during the next sweep; by then they have
// refilled, so a fresh bucket behaves the same.
type clientLimiter struct {
	limiters  sync.Map // map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep atomic.Int64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func newClientLimiter(rps rate.Limit, burst int) *clientLimiter {
	ttl := limiterIdleTTL
	if refill := time.Duration(float64(burst) / float64(rps) * float64(time.Second)); refill > ttl {
		ttl = refill
	}
	l := &clientLimiter{rps: rps, burst: burst, idleTTL: ttl, now: time.Now}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	now := l.now().UnixNano()
	l.sweep(now)

	v, ok := l.limiters.Load(key)
	if !ok {
		v, _ = l.limiters.LoadOrStore(key, &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)})
	}
	entry := v.(*limiterEntry)
	entry.lastSeen.Store(now)
	return entry.limiter
}

// sweep drops idle buckets at most once per idleTTL
func (l *clientLimiter) sweep(now int64) {
	last := l.lastSweep.Load()
	if now-last < int64(l.idleTTL) || !l.lastSweep.CompareAndSwap(last, now) {
		return
	}
	l.limiters.Range(func(key, v any) bool {
		if now-v.(*limiterEntry).lastSeen.Load() >= int64(l.idleTTL) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware rejects requests with 429 once a client exceeds rps
// requests per second. A non-positive rps disables the limit.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 5
	}

	limiter := newClientLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

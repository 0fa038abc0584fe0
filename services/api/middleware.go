package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UserHeader carries the caller identity set by the upstream auth layer.
const UserHeader = "X-User-ID"

const userKey = "userID"

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(UserHeader)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{
				Success:   false,
				Error:     "missing " + UserHeader + " header",
				Code:      "UNAUTHORIZED",
				Timestamp: stamp(),
			})
			return
		}
		c.Set(userKey, uid)
		c.Next()
	}
}

func userID(c *gin.Context) string { return c.GetString(userKey) }

// userLimiter hands out one token bucket per user.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newUserLimiter(rps float64, burst int) *userLimiter {
	return &userLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *userLimiter) get(uid string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[uid]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[uid] = lim
	}
	return lim
}

func (l *userLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(userID(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{
				Success:   false,
				Error:     "rate limit exceeded",
				Code:      "RATE_LIMITED",
				Timestamp: stamp(),
			})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("user_id", userID(c)),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// UserRateLimiter keeps one token bucket per user. Anonymous callers share
// the bucket of the empty user.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter allows perMinute requests per user with bursts of burst
func NewUserRateLimiter(perMinute, burst int) *UserRateLimiter {
	return &UserRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    max(burst, 1),
	}
}

func (l *UserRateLimiter) limiter(user string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[user]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[user] = lim
	}
	return lim
}

// Allow reports whether user may issue a request now, and otherwise how long to wait
func (l *UserRateLimiter) Allow(user string) (bool, time.Duration) {
	r := l.limiter(user).Reserve()
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// UserRateLimitMiddleware enforces per-user limits.
// Requires ExtractUsername to run first.
func UserRateLimitMiddleware(limiter *UserRateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := GetUsername(c)

			allowed, retryAfter := limiter.Allow(username)
			if !allowed {
				seconds := int(retryAfter.Seconds()) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded for user "+strconv.Quote(username))
			}

			return next(c)
		}
	}
}

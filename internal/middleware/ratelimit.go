package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/carryconnect/carryconnect/internal/config"
)

// NewWindowLimiter counts requests per caller in fixed windows stored in
// Redis.  POST, PUT, PATCH and DELETE draw from the write budget.  Redis
// failures let the request through.
func NewWindowLimiter(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			limit, class := cfg.Limit, "r"
			if isWrite(c.Request().Method) {
				limit, class = cfg.WriteLimit, "w"
			}
			start := now.Truncate(cfg.Window)
			key := buildRateKey(cfg, c, class, start)

			var incr *redis.IntCmd
			_, err := rdb.TxPipelined(c.Request().Context(), func(p redis.Pipeliner) error {
				incr = p.Incr(c.Request().Context(), key)
				p.PExpire(c.Request().Context(), key, cfg.Window+time.Second)
				return nil
			})
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
				}
				return next(c)
			}
			used := incr.Val()

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(limit)-used), 10))
			if used > int64(limit) {
				secs := retryAfter(start.Add(cfg.Window).Sub(now))
				h.Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					c.Logger().Infof("[ratelimit] block key=%s used=%d", key, used)
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too many requests",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// retryAfter rounds d up to whole seconds, at least one.
func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// buildRateKey names the counter for one caller, budget class and window.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context, class string, window time.Time) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{cfg.Prefix, class}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, ip)
	case "user":
		parts = append(parts, rateSubject(c))
	case "user_route":
		parts = append(parts, rateSubject(c), c.Request().Method+" "+c.Path())
	default:
		parts = append(parts, ip, rateSubject(c))
	}
	parts = append(parts, strconv.FormatInt(window.Unix(), 10))
	return strings.Join(parts, ":")
}

package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/httputil"
	"github.com/af-corp/prompt-gateway/internal/reqctx"
)

const (
	headerRateLimit          = "RateLimit-Limit"
	headerRateLimitRemaining = "RateLimit-Remaining"
	headerRateLimitReset     = "RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Middleware returns chi middleware that limits requests per client IP.
// Configuration is read per request so reloads apply immediately. onLimited,
// if set, is called for every rejected request.
func Middleware(limiter *Limiter, cfg func() config.RateLimitConfig, onLimited func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cfg()
			if !c.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := httputil.ClientIP(r)
			result := limiter.Check(clientIP, c.Requests, c.Window)

			w.Header().Set(headerRateLimit, strconv.FormatInt(result.Limit, 10))
			w.Header().Set(headerRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, strconv.Itoa(ceilSeconds(result.Reset)))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqctx.RequestID(r.Context()),
					"client_ip", clientIP,
					"limit", c.Requests,
					"window", c.Window.String(),
				)
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set(headerRetryAfter, strconv.Itoa(ceilSeconds(result.RetryAfter)))
				httputil.WriteRateLimitError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

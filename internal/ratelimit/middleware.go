package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gamedex/gamedex-server/internal/auth"
	"github.com/gamedex/gamedex-server/internal/config"
	"github.com/gamedex/gamedex-server/internal/httputil"
	"github.com/gamedex/gamedex-server/internal/telemetry"
)

const (
	fallbackRPM = 60

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware returns chi middleware that enforces per-device request limits
// and the daily spend ceiling. Per-key limits stored on the device key win
// over the configured defaults.
func Middleware(limiter *Limiter, spend *SpendTracker, cfg config.RateLimitConfig, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			device, ok := auth.DeviceFromContext(r.Context())
			if !ok {
				// Route is not behind auth; nothing to limit against.
				next.ServeHTTP(w, r)
				return
			}

			rpm := cfg.DefaultRPM
			if rpm <= 0 {
				rpm = fallbackRPM
			}
			if device.RPMLimit != nil {
				rpm = *device.RPMLimit
			}

			rpmKey := fmt.Sprintf("rpm:%s", device.KeyID)
			result, _ := limiter.Check(r.Context(), rpmKey, int64(rpm), time.Minute)

			// Always set rate limit headers
			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"key_id", device.KeyID,
					"device_id", device.DeviceID,
					"limit", rpm,
				)
				metrics.RecordRateLimitHit("rpm")
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
				return
			}

			limitCents := int64(cfg.DailySpendLimitCents)
			if device.DailySpendLimitCents != nil {
				limitCents = int64(*device.DailySpendLimitCents)
			}
			if limitCents > 0 {
				spendResult, _ := spend.CheckDailySpend(r.Context(), device.DeviceID, limitCents)
				if !spendResult.Allowed {
					slog.Warn("daily spend limit exceeded",
						"request_id", reqID,
						"key_id", device.KeyID,
						"device_id", device.DeviceID,
						"spent_cents", spendResult.SpentCents,
						"limit_cents", spendResult.LimitCents,
					)
					metrics.RecordRateLimitHit("spend")
					httputil.WriteBudgetExceededError(w, reqID,
						fmt.Sprintf("Daily spend limit exceeded: spent %d of %d cents", spendResult.SpentCents, spendResult.LimitCents))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

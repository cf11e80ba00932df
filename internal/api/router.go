package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gamedex/gamedex-server/internal/auth"
	"github.com/gamedex/gamedex-server/internal/config"
	"github.com/gamedex/gamedex-server/internal/ratelimit"
	"github.com/gamedex/gamedex-server/internal/telemetry"
)

// NewRouter assembles the HTTP surface: an open health endpoint plus the
// authenticated, rate-limited device API.
func NewRouter(h *Handler, keyStore auth.KeyStore, limiter *ratelimit.Limiter, spend *ratelimit.SpendTracker, limits config.RateLimitConfig, metrics *telemetry.Metrics, version string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/gamedex/v1/health", healthHandler(version))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Use(ratelimit.Middleware(limiter, spend, limits, metrics))

		r.Post("/v1/suggestions", instrument(metrics, "suggestions", h.Suggestions))
		r.Post("/v1/recommendations", instrument(metrics, "recommendations", h.Recommendations))
		r.Post("/v1/profile/insights", instrument(metrics, "profile_insights", h.ProfileInsights))
		r.Post("/v1/profile/insights/stream", instrument(metrics, "profile_stream", h.ProfileInsightsStream))
		r.Get("/v1/studios/expand", instrument(metrics, "studio_expand", h.ExpandStudio))
		r.Post("/v1/studios/expand", instrument(metrics, "studio_expand_batch", h.ExpandStudios))
		r.Get("/v1/studios/search", instrument(metrics, "studio_search", h.SearchStudios))
		r.Get("/v1/library", instrument(metrics, "library_get", h.GetLibrary))
		r.Put("/v1/library", instrument(metrics, "library_replace", h.ReplaceLibrary))
		r.Post("/v1/cache/clear", instrument(metrics, "cache_clear", h.ClearCache))
	})

	return r
}

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"version": version,
		})
	}
}

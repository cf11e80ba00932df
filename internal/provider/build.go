package provider

import (
	"net/http"
	"time"

	"github.com/gamedex/gamedex-server/internal/config"
)

// BuildClient constructs the client for one configured provider. Unknown
// types fall back to the OpenAI-compatible wire format.
func BuildClient(cfg config.ProviderConfig) Client {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxConcurrent,
			MaxIdleConnsPerHost: cfg.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}

	switch cfg.Type {
	case "gemini":
		return NewGeminiClient(cfg, client)
	default:
		return NewOpenAIClient(cfg, client)
	}
}

package provider

import "context"

// Client is one upstream LLM provider. Implementations classify every
// failure into the Kind taxonomy at this boundary; callers above never see
// raw transport or status errors.
type Client interface {
	Name() string
	GenerateText(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	GenerateJSON(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error)
}

type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type GenerateResponse struct {
	Provider string
	Model    string
	Text     string
	Usage    Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

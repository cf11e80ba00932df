package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gamedex/gamedex-server/internal/config"
)

// GeminiClient talks to the Gemini generateContent API. It serves as the
// secondary provider: slower and pricier, but on independent infrastructure
// from the primary.
type GeminiClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewGeminiClient(cfg config.ProviderConfig, client *http.Client) *GeminiClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &GeminiClient{cfg: cfg, client: client}
}

func (c *GeminiClient) Name() string { return c.cfg.Name }

func (c *GeminiClient) GenerateText(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return c.generate(ctx, req, false)
}

func (c *GeminiClient) GenerateJSON(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return c.generate(ctx, req, true)
}

func (c *GeminiClient) generate(ctx context.Context, req GenerateRequest, jsonMode bool) (*GenerateResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, req.Model)

	resp, err := c.post(ctx, url, req, geminiBody(req, jsonMode))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp, req.Model)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if Canceled(err) {
			return nil, err
		}
		return nil, netError(c.cfg.Name, req.Model, err)
	}

	var gem geminiResponse
	if err := json.Unmarshal(data, &gem); err != nil {
		return nil, invalidError(c.cfg.Name, req.Model, fmt.Sprintf("unmarshal response: %v", err))
	}
	text := gem.text()
	if strings.TrimSpace(text) == "" {
		return nil, emptyError(c.cfg.Name, req.Model)
	}

	return &GenerateResponse{
		Provider: c.cfg.Name,
		Model:    req.Model,
		Text:     text,
		Usage: Usage{
			PromptTokens:     gem.UsageMetadata.PromptTokenCount,
			CompletionTokens: gem.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gem.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (c *GeminiClient) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.cfg.BaseURL, req.Model)

	resp, err := c.post(ctx, url, req, geminiBody(req, false))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp, req.Model)
	}

	return NewStream(c.cfg.Name, req.Model, resp.Body, decodeGeminiChunk), nil
}

func (c *GeminiClient) post(ctx context.Context, url string, req GenerateRequest, body geminiRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)
	for k, v := range c.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if Canceled(err) {
			return nil, err
		}
		return nil, netError(c.cfg.Name, req.Model, err)
	}
	return resp, nil
}

func (c *GeminiClient) readError(resp *http.Response, model string) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32*1024))

	msg := strings.TrimSpace(string(body))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return classifyStatus(c.cfg.Name, model, resp.StatusCode, msg)
}

func geminiBody(req GenerateRequest, jsonMode bool) geminiRequest {
	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	if jsonMode {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}
	return body
}

func decodeGeminiChunk(data []byte) (string, bool, error) {
	var chunk geminiResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false, err
	}
	done := len(chunk.Candidates) > 0 && chunk.Candidates[0].FinishReason != ""
	return chunk.text(), done, nil
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature,omitempty"`
		MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
		ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

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

// OpenAIClient talks to OpenAI-compatible chat-completions APIs. It is the
// primary provider in the default deployment: cheap, fast, rate-limit prone.
type OpenAIClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIClient(cfg config.ProviderConfig, client *http.Client) *OpenAIClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{cfg: cfg, client: client}
}

func (c *OpenAIClient) Name() string { return c.cfg.Name }

func (c *OpenAIClient) GenerateText(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return c.generate(ctx, req, false)
}

func (c *OpenAIClient) GenerateJSON(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return c.generate(ctx, req, true)
}

func (c *OpenAIClient) generate(ctx context.Context, req GenerateRequest, jsonMode bool) (*GenerateResponse, error) {
	body := openAIRequest{
		Model:       req.Model,
		Messages:    openAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if jsonMode {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	resp, err := c.post(ctx, req.Model, body)
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

	var oai openAIResponse
	if err := json.Unmarshal(data, &oai); err != nil {
		return nil, invalidError(c.cfg.Name, req.Model, fmt.Sprintf("unmarshal response: %v", err))
	}
	if len(oai.Choices) == 0 || strings.TrimSpace(oai.Choices[0].Message.Content) == "" {
		return nil, emptyError(c.cfg.Name, req.Model)
	}

	return &GenerateResponse{
		Provider: c.cfg.Name,
		Model:    req.Model,
		Text:     oai.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     oai.Usage.PromptTokens,
			CompletionTokens: oai.Usage.CompletionTokens,
			TotalTokens:      oai.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAIClient) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	body := openAIRequest{
		Model:       req.Model,
		Messages:    openAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	resp, err := c.post(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp, req.Model)
	}

	return NewStream(c.cfg.Name, req.Model, resp.Body, decodeOpenAIChunk), nil
}

func (c *OpenAIClient) post(ctx context.Context, model string, body openAIRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
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
		return nil, netError(c.cfg.Name, model, err)
	}
	return resp, nil
}

func (c *OpenAIClient) readError(resp *http.Response, model string) error {
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

func openAIMessages(req GenerateRequest) []openAIMessage {
	var msgs []openAIMessage
	if req.System != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: req.System})
	}
	return append(msgs, openAIMessage{Role: "user", Content: req.Prompt})
}

func decodeOpenAIChunk(data []byte) (string, bool, error) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false, err
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	choice := chunk.Choices[0]
	done := choice.FinishReason != nil && *choice.FinishReason != ""
	return choice.Delta.Content, done, nil
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

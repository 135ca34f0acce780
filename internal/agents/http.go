package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPInvoker calls an OpenAI-compatible chat-completions endpoint.
type HTTPInvoker struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewHTTPInvoker builds an invoker with a default timeout.
func NewHTTPInvoker(baseURL, apiKey, model string) *HTTPInvoker {
	return &HTTPInvoker{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *HTTPInvoker) Invoke(ctx context.Context, req Request) (*Completion, error) {
	body := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("agents: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("agents: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Status: resp.StatusCode, Message: string(detail)}
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "malformed completion response: " + err.Error()}
	}
	if len(out.Choices) == 0 {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "empty choices in completion response"}
	}
	model := out.Model
	if model == "" {
		model = c.Model
	}
	return &Completion{
		Text:  out.Choices[0].Message.Content,
		Model: model,
		Usage: usageFrom(out.Usage.PromptTokens, out.Usage.CompletionTokens),
	}, nil
}

package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenRouter talks to an OpenAI-compatible /chat/completions endpoint.
type OpenRouter struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewOpenRouter constructs an OpenRouter provider. The API key is required.
func NewOpenRouter(endpoint, model, apiKey string) (*OpenRouter, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultOpenRouterEndpoint
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openrouter: api key is required (summarize.api_key or OPENROUTER_API_KEY)")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openrouter: model is required")
	}
	return &OpenRouter{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      strings.TrimSpace(model),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
	}, nil
}

func (o *OpenRouter) Name() string { return ProviderOpenRouter }

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orRequest struct {
	Model     string      `json:"model"`
	Messages  []orMessage `json:"messages"`
	MaxTokens int         `json:"max_tokens,omitempty"`
}

type orResponse struct {
	Choices []struct {
		Message orMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request.
func (o *OpenRouter) Complete(ctx context.Context, system, prompt string) (string, error) {
	payload := orRequest{
		Model: o.model,
		Messages: []orMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens: defaultMaxTokens,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openrouter: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("openrouter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: request error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("openrouter: status %d: %s", resp.StatusCode, truncate(string(body), 400))
	}

	var parsed orResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openrouter: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter: empty choices")
	}
	return stripThinking(parsed.Choices[0].Message.Content), nil
}

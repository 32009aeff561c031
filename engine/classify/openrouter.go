package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// DefaultOpenRouterURL is OpenRouter's chat completions endpoint.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// DefaultOpenRouterModel is a free instruction-tuned model on OpenRouter.
const DefaultOpenRouterModel = "meta-llama/llama-3.3-70b-instruct:free"

// OpenRouter classifies through any OpenAI-compatible chat completions API.
type OpenRouter struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewOpenRouter creates a chat-completions classifier. An empty url or
// model uses the OpenRouter defaults.
func NewOpenRouter(url, apiKey, model string) *OpenRouter {
	if url == "" {
		url = DefaultOpenRouterURL
	}
	if model == "" {
		model = DefaultOpenRouterModel
	}
	return &OpenRouter{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify implements Classifier.
func (o *OpenRouter) Classify(ctx context.Context, body string) (domain.Classification, error) {
	raw, err := o.complete(ctx, Prompt(body))
	if err != nil {
		return domain.Classification{}, &domain.ClassificationError{Err: err}
	}
	c, err := Parse(raw)
	if err != nil {
		return domain.Classification{}, &domain.ClassificationError{Err: err}
	}
	return c, nil
}

func (o *OpenRouter) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("X-Title", "helpdesk")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &domain.TransientProviderError{Provider: "openrouter", Op: "chat", Err: err}
	}
	defer resp.Body.Close()

	if err := statusError("openrouter", resp); err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewSchemaError("", "", fmt.Errorf("openrouter: decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", domain.NewSchemaError("choices", "", errors.New("openrouter: no choices in response"))
	}
	return out.Choices[0].Message.Content, nil
}

// statusError maps a non-2xx HTTP reply onto the provider error taxonomy.
func statusError(provider string, resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("status %d: %s", code, snippet(resp.Body))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &domain.AuthError{Provider: provider, Err: err}
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &domain.TransientProviderError{Provider: provider, Op: "chat", Err: err}
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}

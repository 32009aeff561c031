package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/helpdeskai/helpdesk/engine/domain"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic classifies through the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates a Messages API classifier. baseURL may be empty.
// SDK retries are disabled; retry policy belongs to the caller.
func NewAnthropic(apiKey, baseURL, model string) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, model: model}
}

// Classify implements Classifier.
func (a *Anthropic) Classify(ctx context.Context, body string) (domain.Classification, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Prompt(body))),
		},
	})
	if err != nil {
		return domain.Classification{}, &domain.ClassificationError{Err: anthropicError(err)}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c, err := Parse(text.String())
	if err != nil {
		return domain.Classification{}, &domain.ClassificationError{Err: err}
	}
	return c, nil
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &domain.TransientProviderError{Provider: "anthropic", Op: "messages", Err: err}
	}
	switch code := apiErr.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &domain.AuthError{Provider: "anthropic", Err: err}
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &domain.TransientProviderError{Provider: "anthropic", Op: "messages", Err: err}
	default:
		return fmt.Errorf("anthropic: %w", err)
	}
}
